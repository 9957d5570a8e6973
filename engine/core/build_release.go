//go:build !debug

package core

const debugBuild = false
