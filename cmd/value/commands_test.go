package value

import "testing"

func TestParseValue(t *testing.T) {
	tests := []struct {
		arg     string
		want    int64
		wantErr bool
	}{
		{"101", 101, false},
		{"-5", -5, false},
		{"0", 0, false},
		{"9223372036854775807", 9223372036854775807, false},
		{"1.5", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseValue(tt.arg)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseValue(%q) = (%d, %v), want (%d, error=%v)", tt.arg, got, err, tt.want, tt.wantErr)
		}
	}
}

// TestSetNegativeValue tests that negative values are passed after --
func TestSetNegativeValue(t *testing.T) {
	if err := setCmd.ParseFlags([]string{"--", "-5"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	args := setCmd.Flags().Args()
	if len(args) != 1 {
		t.Fatalf("Expected one argument, got %v", args)
	}
	if v, err := parseValue(args[0]); err != nil || v != -5 {
		t.Errorf("Expected (-5, nil), got (%d, %v)", v, err)
	}
}
