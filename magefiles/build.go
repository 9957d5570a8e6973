//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var binDir = "bin"

// Builds the windowed demo into bin/refract.
func (Build) Engine() error {
	fmt.Println("Build engine...")
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join(binDir, "refract"), "."), withStream())
	return err
}

// Builds the headless capture tool into bin/refract-capture.
func (Build) Capture() error {
	fmt.Println("Build capture...")
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join(binDir, "refract-capture"), "./cmd/refract-capture"), withStream())
	return err
}

// Runs go vet and the tests of every package.
func Test() error {
	if _, err := executeCmd("go", withArgs("vet", "./..."), withStream()); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./..."), withStream())
	return err
}
