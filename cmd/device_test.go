package cmd

import (
	"testing"

	"github.com/allbin/busscan"
)

func TestParseParityFlag(t *testing.T) {
	tests := []struct {
		in      string
		want    busscan.Parity
		wantErr bool
	}{
		{"N", busscan.ParityNone, false},
		{"E", busscan.ParityEven, false},
		{"O", busscan.ParityOdd, false},
		{"X", busscan.ParityNone, true},
		{"e", busscan.ParityNone, true},
		{"U", busscan.ParityNone, true},
		{"", busscan.ParityNone, true},
		{"NE", busscan.ParityNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseParityFlag(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseParityFlag(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseParityFlag(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
