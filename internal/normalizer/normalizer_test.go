package normalizer

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autosctype/pkg/contract"
)

func vault() contract.ContractDescriptor {
	return contract.ContractDescriptor{
		Name: "Vault",
		Functions: []contract.FunctionSig{
			{Name: "deposit"},
			{Name: "withdraw"},
			{Name: "setFee"},
		},
	}
}

func norm(t *testing.T, raw string, v contract.Variant) string {
	t.Helper()
	out, _, err := Normalize(raw, vault(), v)
	require.NoError(t, err)
	return out
}

func TestEmptyCandidateYieldsMinimal(t *testing.T) {
	for _, raw := range []string{"", "   \n\t\n"} {
		out, rep, err := Normalize(raw, vault(), contract.VariantToken)
		require.NoError(t, err)
		assert.Equal(t, "[*c], Vault\n\n", out)
		assert.True(t, rep.Fallback)

		out, _, err = Normalize(raw, vault(), contract.VariantFinancial)
		require.NoError(t, err)
		assert.Equal(t, "", out)
	}
}

func TestHeaderRepair(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"缺失表头", "[t], global, x, 1, -1, 18, 'u'", "[*c], Vault\n\n[t], global, x, 1, -1, 18, 'u'\n"},
		{"已有表头", "[*c], Vault\n\n[t], global, x, 1, -1, 18, 'u'", "[*c], Vault\n\n[t], global, x, 1, -1, 18, 'u'\n"},
		{"表头前有说明文字", "Here are the annotations:\n[*c], Vault\n[t], global, x, 1, -1, 18, 'u'", "[*c], Vault\n\nHere are the annotations:\n[t], global, x, 1, -1, 18, 'u'\n"},
		{"大小写不符的表头被替换", "[*C],vault\n[t], global, x, 1, -1, 18, 'u'", "[*c], Vault\n\n[t], global, x, 1, -1, 18, 'u'\n"},
		{"其他合约表头保留", "[*c], Base\n[t], global, y, 1, -1, 18, 'u'", "[*c], Vault\n\n[*c], Base\n[t], global, y, 1, -1, 18, 'u'\n"},
		{"只有表头", "[*c], Vault", "[*c], Vault\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := norm(t, tt.raw, contract.VariantToken)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestFinancialSuffixRepair(t *testing.T) {
	raw := strings.Join([]string{
		"[*c], Vault",
		"[t], global, totalDeposits, 10",
		"[t], deposit, amount, f",
		"[tref], history, f:",
		"[t*], global, Position, amount, f:-",
		"[t], global, rate, f: 20",
		"[t], global, price, f:40",
		"[sc], oracle, latestAnswer, 40",
	}, "\n")
	want := strings.Join([]string{
		"[*c], Vault",
		"",
		"[t], global, totalDeposits, f:10",
		"[t], deposit, amount, f:-1",
		"[tref], history, f:-1",
		"[t*], global, Position, amount, f:-1",
		"[t], global, rate, f:20",
		"[t], global, price, f:40",
		"[sc], oracle, latestAnswer, 40",
	}, "\n") + "\n"
	out, rep, err := Normalize(raw, vault(), contract.VariantFinancial)
	require.NoError(t, err)
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	assert.Equal(t, 5, rep.SuffixRepairs)

	// token 变体不做后缀修复
	tok := norm(t, "[t], global, totalDeposits, 10", contract.VariantToken)
	assert.Contains(t, tok, "[t], global, totalDeposits, 10\n")
}

func TestSkipReflowFinancial(t *testing.T) {
	raw := strings.Join([]string{
		"[*c], Vault",
		"[t], global, fee, f:10",
		"Skip functions:",
		"helper",
		"- internalMath()",
		"",
		"withdraw",
		"[sf], deposit",
		"[sf], deposit",
		"See notes above.",
	}, "\n")
	want := strings.Join([]string{
		"[*c], Vault",
		"",
		"[t], global, fee, f:10",
		"[sf], helper",
		"[sf], internalMath",
		"",
		"[sf], withdraw",
		"[sf], deposit",
		"See notes above.",
	}, "\n") + "\n"
	got := norm(t, raw, contract.VariantFinancial)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestSkipReflowToken(t *testing.T) {
	raw := strings.Join([]string{
		"[*c], Vault",
		"[sf], setFee",
		"[t], global, totalDeposits, 1, -1, 18, 'u'",
		"withdraw",
		"[t], deposit, amount, 1, -1, 18, 'u'",
		"Skipped functions:",
		"none",
		"rescue",
		"",
		"sweep",
	}, "\n")
	want := strings.Join([]string{
		"[*c], Vault",
		"",
		"[t], global, totalDeposits, 1, -1, 18, 'u'",
		"[t], deposit, amount, 1, -1, 18, 'u'",
		"",
		"setFee",
		"withdraw",
		"rescue",
		"sweep",
	}, "\n") + "\n"
	got := norm(t, raw, contract.VariantToken)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestSkipOnlyTokenDocument(t *testing.T) {
	got := norm(t, "[sf], deposit", contract.VariantToken)
	assert.Equal(t, "[*c], Vault\n\ndeposit\n", got)
}

func TestFreeCommentaryIsKept(t *testing.T) {
	raw := "[t], global, x, 1, -1, 18, 'u'\nThese annotations assume 18 decimals.\nmaybe\n[t], global, y, 1, -1, 6, 'u'"
	got := norm(t, raw, contract.VariantToken)
	assert.Contains(t, got, "These annotations assume 18 decimals.\nmaybe\n")
}

func TestNumericExpansion(t *testing.T) {
	raw := strings.Join([]string{
		"[t], global, cap, 1, -1, 1e6, 'u'",
		"[ta], global, token, 1e18",
		"[tref], history, 1, -1, 1.5e3",
		"[t*], global, Position, amount, 1, -1, 1e6, 'u'",
		"note: 1e6 stays here",
		"[t], global, huge, 1, -1, 1e100, 'u'",
	}, "\n")
	out, rep, err := Normalize(raw, vault(), contract.VariantToken)
	require.NoError(t, err)
	assert.Contains(t, out, "[t], global, cap, 1, -1, 1000000, 'u'\n")
	assert.Contains(t, out, "[ta], global, token, 1000000000000000000\n")
	assert.Contains(t, out, "[tref], history, 1, -1, 1500\n")
	assert.Contains(t, out, "[t*], global, Position, amount, 1, -1, 1e6, 'u'\n")
	assert.Contains(t, out, "note: 1e6 stays here\n")
	assert.Contains(t, out, "1e100")
	assert.Equal(t, 3, rep.NumericRewrites)

	fin := norm(t, "[t], global, cap, 1e6", contract.VariantFinancial)
	assert.Contains(t, fin, "1e6")
}

func TestExpandExponent(t *testing.T) {
	tests := []struct{ in, frac, exp, want string }{
		{"1", "", "6", "1000000"},
		{"1", "5", "6", "1500000"},
		{"1", "25", "1", "12.5"},
		{"0", "5", "3", "500"},
		{"7", "", "0", "7"},
	}
	for _, tt := range tests {
		got, ok := expandExponent(tt.in, tt.frac, tt.exp)
		require.True(t, ok)
		assert.Equal(t, tt.want, got)
	}
	_, ok := expandExponent("1", "", "78")
	assert.False(t, ok)
}

func TestBraceEscaping(t *testing.T) {
	raw := strings.Join([]string{
		"[sct], pair, getReserves, {uint112, uint112, uint32}",
		"[sct], pair, slot0, {{uint160, int24}}",
		"[sct], pair, odd, {{{x}}}",
		"[sct], pair, nested, {a, {b}}",
		"[sct], pair, mixed, {{a}{b}}",
		"[sct], pair, broken, {{x}",
		"[sc], pair, sync, {a}",
	}, "\n")
	got := norm(t, raw, contract.VariantToken)
	assert.Contains(t, got, "[sct], pair, getReserves, {{uint112, uint112, uint32}}\n")
	assert.Contains(t, got, "[sct], pair, slot0, {{uint160, int24}}\n")
	assert.Contains(t, got, "[sct], pair, odd, {{{{{{x}}}}}}\n")
	assert.Contains(t, got, "[sct], pair, nested, {{a, {{b}}}}\n")
	assert.Contains(t, got, "[sct], pair, mixed, {{{{a}}{{b}}}}\n")
	assert.Contains(t, got, "[sct], pair, broken, {{x}\n")
	assert.Contains(t, got, "[sc], pair, sync, {a}\n")
}

func TestParsingStripsDecorations(t *testing.T) {
	raw := "```text\n- `[t], global, x, 1, -1, 18, 'u'`\n* [t],global,y,1,-1,6,'u'\n1. [ta], global, t, 0x0\n```"
	got := norm(t, raw, contract.VariantToken)
	want := "[*c], Vault\n\n[t], global, x, 1, -1, 18, 'u'\n[t], global, y, 1, -1, 6, 'u'\n[ta], global, t, 0x0\n"
	assert.Equal(t, want, got)
}

func TestInvalidArityIsReportedNotDropped(t *testing.T) {
	out, rep, err := Normalize("[t], global, x\n[sc], a, b, 1, -1, 18", vault(), contract.VariantToken)
	require.NoError(t, err)
	assert.Contains(t, out, "[t], global, x\n")
	assert.Equal(t, []string{"[t], global, x"}, rep.Invalid)
}

// 幂等性：对多种候选文档，二次规范化不再产生变化。
func TestIdempotence(t *testing.T) {
	fixtures := []string{
		"",
		"[*c], Vault",
		"garbage only",
		"TOKEN stuff\n[t], global, x, 1e6\n\n\n\nSkip:\nfoo\nbar\n",
		"[*c], vault\n[t], global, a, 10\n[t], deposit, amount, f\n[sf], deposit\nwithdraw\n- helper\n\nnone\n",
		"[sct], p, q, {a, {b}}\n[sct], p, r, {{x}\n[tref], arr, 1, -1, 2.5e2\n",
		"- - nested bullet\n`- ```json`\n[note], keep me\n[1] not a tag\n",
		"[*c], Other\n[*c], Vault\n[sf]\n[sf], bad name\nsweep\n",
		"[t], global, fee, f: 3\n[t*], global, S, f, f:\n[sf], a, b\n",
		"[sct], p, deep, {a, {b, {c}}}\n[sct], p, pair, {{a}, {b}}\n",
	}
	d := vault()
	for i, raw := range fixtures {
		for _, v := range contract.Variants {
			once, _, err := Normalize(raw, d, v)
			require.NoError(t, err)
			twice, _, err := Normalize(once, d, v)
			require.NoError(t, err)
			if diff := cmp.Diff(once, twice); diff != "" {
				t.Fatalf("fixture %d (%s) 非幂等 (-once +twice):\n%s", i, v, diff)
			}
			if once != "" {
				first := strings.SplitN(strings.TrimLeft(once, "\n"), "\n", 2)[0]
				assert.Equal(t, Header("Vault"), first)
			}
		}
	}
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	_, _, err := Normalize("x", contract.ContractDescriptor{}, contract.VariantToken)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, _, err = Normalize("x", vault(), contract.Variant("bogus"))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestNormalizeSafeFallsBack(t *testing.T) {
	doc, rep, err := NormalizeSafe("x", vault(), contract.Variant("bogus"))
	assert.Error(t, err)
	assert.True(t, rep.Fallback)
	assert.Equal(t, "[*c], Vault\n\n", doc)

	doc, _, err = NormalizeSafe("[t], global, a, 5", vault(), contract.VariantFinancial)
	require.NoError(t, err)
	assert.Equal(t, "[*c], Vault\n\n[t], global, a, f:5\n", doc)
}

func TestReportRepairs(t *testing.T) {
	_, rep, err := Normalize("[t], g, a, 5\n[sf], deposit", vault(), contract.VariantFinancial)
	require.NoError(t, err)
	r := rep.Repairs()
	assert.Equal(t, 1, r["header"])
	assert.Equal(t, 1, r["suffix"])
	assert.Equal(t, 1, r["skip"])
	assert.Equal(t, 0, r["numeric"])
}
