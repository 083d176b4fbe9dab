package main

import (
	"testing"

	_ "github.com/odyssey-erp/cashclose/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	main()
}
