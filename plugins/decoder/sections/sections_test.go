package sections

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autosctype/pkg/contract"
)

func newDecoder(t *testing.T, raw string) contract.Decoder {
	t.Helper()
	d, err := New(json.RawMessage(raw))
	require.NoError(t, err)
	return d
}

func TestDecodeCombined(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want contract.Candidates
	}{
		{
			name: "编号分节",
			raw: "1. TOKEN_TYPE_FILE:\n[*c], Vault\n\n[t], global, fee, 1, -1, 18, 'u'\n\n" +
				"2. FINANCIAL_TYPE_FILE:\n[t], global, fee, f:11\n",
			want: contract.Candidates{
				contract.VariantToken:     "[*c], Vault\n\n[t], global, fee, 1, -1, 18, 'u'",
				contract.VariantFinancial: "[t], global, fee, f:11",
			},
		},
		{
			name: "markdown 修饰与逆序",
			raw: "Here you go.\n\n### **FINANCIAL_TYPE_FILE**:\n[t], global, price, f:40\n\n" +
				"### **TOKEN_TYPE_FILE**:\n```\n[*c], Pool\n```\n",
			want: contract.Candidates{
				contract.VariantToken:     "```\n[*c], Pool\n```",
				contract.VariantFinancial: "[t], global, price, f:40",
			},
		},
		{
			name: "CRLF 与无冒号",
			raw:  "TOKEN_TYPE_FILE\r\n[*c], A\r\n2. FINANCIAL_TYPE_FILE\r\n[sf], init\r\n",
			want: contract.Candidates{
				contract.VariantToken:     "[*c], A",
				contract.VariantFinancial: "[sf], init",
			},
		},
		{
			name: "缺少 financial 分节",
			raw:  "TOKEN_TYPE_FILE:\n[*c], A\n",
			want: contract.Candidates{contract.VariantToken: "[*c], A"},
		},
	}
	d := newDecoder(t, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Decode(context.Background(), contract.Raw{Text: tt.raw}, contract.Variants)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("candidates mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeSingleVariant(t *testing.T) {
	d := newDecoder(t, "")
	// 无分节：取全文
	got, err := d.Decode(context.Background(), contract.Raw{Text: "\n[t], global, fee, f:11\n"}, []contract.Variant{contract.VariantFinancial})
	require.NoError(t, err)
	assert.Equal(t, contract.Candidates{contract.VariantFinancial: "[t], global, fee, f:11"}, got)

	// 有分节：只取请求的分节，不返回其他键
	raw := "TOKEN_TYPE_FILE:\n[*c], A\nFINANCIAL_TYPE_FILE:\n[sf], x\n"
	got, err = d.Decode(context.Background(), contract.Raw{Text: raw}, []contract.Variant{contract.VariantToken})
	require.NoError(t, err)
	assert.Equal(t, contract.Candidates{contract.VariantToken: "[*c], A"}, got)
}

func TestDecodeErrors(t *testing.T) {
	d := newDecoder(t, "")
	ctx := context.Background()

	_, err := d.Decode(ctx, contract.Raw{Text: "  \n "}, contract.Variants)
	assert.ErrorIs(t, err, contract.ErrNoContent)

	_, err = d.Decode(ctx, contract.Raw{Text: "I cannot help with that."}, contract.Variants)
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)

	_, err = d.Decode(ctx, contract.Raw{Text: "x"}, []contract.Variant{"abi"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	_, err = d.Decode(ctx, contract.Raw{Text: "x"}, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = d.Decode(cctx, contract.Raw{Text: "x"}, contract.Variants)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeStrict(t *testing.T) {
	d := newDecoder(t, `{"strict": true}`)
	_, err := d.Decode(context.Background(), contract.Raw{Text: "TOKEN_TYPE_FILE:\n[*c], A\n"}, contract.Variants)
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestNewOptions(t *testing.T) {
	_, err := New(json.RawMessage(`{"match_timeout_ms": 50}`))
	assert.NoError(t, err)
	_, err = New(json.RawMessage(`{"lenient": true}`))
	assert.Error(t, err, "未知字段应报错")
	_, err = New(nil)
	assert.NoError(t, err)
}
