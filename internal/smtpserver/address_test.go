package smtpserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		name       string
		arg        string
		allowEmpty bool
		want       string
		wantErr    bool
	}{
		{name: "plain", arg: "<alice@example.test>", want: "alice@example.test"},
		{name: "surrounding text", arg: " <alice@example.test> ", want: "alice@example.test"},
		{name: "null sender allowed", arg: "<>", allowEmpty: true, want: ""},
		{name: "null recipient rejected", arg: "<>", wantErr: true},
		{name: "source route stripped", arg: "<@relay1,@relay2:alice@example.test>", want: "alice@example.test"},
		{name: "colon route stripped", arg: "<a:b:carol@example.test>", want: "carol@example.test"},
		{name: "no brackets", arg: "alice@example.test", wantErr: true},
		{name: "reversed brackets", arg: ">alice@example.test<", wantErr: true},
		{name: "missing at sign", arg: "<alice>", wantErr: true},
		{name: "missing at sign even for sender", arg: "<alice>", allowEmpty: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractAddress(tt.arg, tt.allowEmpty)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
