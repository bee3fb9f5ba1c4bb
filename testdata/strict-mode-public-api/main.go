// Package main is the only client of publicapi.
package main

import "github.com/715d/reachable/testdata/strict-mode-public-api/publicapi"

func main() {
	publicapi.UsedPublicFunction()
}
