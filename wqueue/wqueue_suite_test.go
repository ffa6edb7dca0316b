package wqueue_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestWQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
