//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles every package in the module.
func (Build) All() error {
	if _, err := executeCmd("go", withArgs("build", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs go vet across the module.
func (Build) Lint() error {
	if _, err := executeCmd("go", withArgs("vet", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs go mod tidy.
func (Build) Tidy() error {
	if _, err := executeCmd("go", withArgs("mod", "tidy"), withStream()); err != nil {
		return err
	}
	return nil
}
