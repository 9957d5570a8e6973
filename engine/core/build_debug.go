//go:build debug

package core

const debugBuild = true
