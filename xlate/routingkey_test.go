package xlate_test

import (
	"testing"

	"github.com/ledgerline/stomp-relay/xlate"
)

func TestBinRoutingKeyGoldenVectors(t *testing.T) {
	cases := []struct {
		args []int64
		want string
	}{
		{[]int64{123}, "1.1.1.1.1.1.0.0.0.0.0.1.0.0.0.0.0.1.1.0.0.0.1.1"},
		{[]int64{-123}, "1.1.0.0.0.0.1.1.1.1.1.1.1.1.1.0.1.0.1.0.1.1.1.1"},
		{[]int64{123, 456}, "0.0.0.0.1.0.0.0.0.1.0.0.0.1.0.0.0.0.1.1.0.1.0.0"},
	}
	for _, c := range cases {
		got := xlate.BinRoutingKey(c.args...)
		if got != c.want {
			t.Errorf("BinRoutingKey(%v) = %q, want %q", c.args, got, c.want)
		}
	}
}
