package app

import "testing"

func TestInTestModeFollowsEnv(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	if !InTestMode() {
		t.Fatal("expected test mode with CASHCLOSE_TEST_MODE=1")
	}

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	if InTestMode() {
		t.Fatal("expected test mode off with CASHCLOSE_TEST_MODE=0")
	}
}
