// Package main provides the proof-inspector server and CLI.
//
// Usage:
//
//	proof-inspector serve
//	proof-inspector profiles
//	proof-inspector analyze --profile coated.icc photo.jpg
package main

func main() {
	Execute()
}
