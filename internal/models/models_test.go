package models

import "testing"

func TestCloudAnchorState_IsReturnable(t *testing.T) {
	tests := []struct {
		state      CloudAnchorState
		returnable bool
		isError    bool
	}{
		{StateNone, false, false},
		{StateTaskInProgress, false, false},
		{"", false, false},
		{StateSuccess, true, false},
		{StateErrorCloudIDNotFound, true, true},
		{StateErrorHostingServiceUnavailable, true, true},
		{StateTaskTimedOut, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsReturnable(); got != tt.returnable {
				t.Errorf("IsReturnable() = %v, want %v", got, tt.returnable)
			}
			if got := tt.state.IsError(); got != tt.isError {
				t.Errorf("IsError() = %v, want %v", got, tt.isError)
			}
		})
	}
}

func TestParseCode(t *testing.T) {
	code, err := ParseCode("142")
	if err != nil {
		t.Fatalf("ParseCode failed: %v", err)
	}
	if code != 142 || code.String() != "142" || !code.Valid() {
		t.Errorf("Unexpected code %v", code)
	}

	if _, err := ParseCode("abc"); err == nil {
		t.Error("Expected error for non-numeric code")
	}
	if c, _ := ParseCode("0"); c.Valid() {
		t.Error("Expected code 0 to be invalid")
	}
}
