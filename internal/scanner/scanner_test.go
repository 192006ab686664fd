package scanner

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autosctype/pkg/contract"
)

func TestScanVault(t *testing.T) {
	src := `contract Vault { uint256 public totalDeposits; function deposit(uint256 amount) external {} }`
	d, err := Scan(src)
	require.NoError(t, err)
	assert.Equal(t, "Vault", d.Name)
	assert.Equal(t, []contract.Variable{{Type: "uint256", Name: "totalDeposits"}}, d.Variables)
	require.Len(t, d.Functions, 1)
	assert.Equal(t, "deposit", d.Functions[0].Name)
	assert.Equal(t, []contract.Param{{Type: "uint256", Name: "amount"}}, d.Functions[0].Params)
	assert.Nil(t, d.Functions[0].Return)
	assert.Empty(t, d.Arrays)
	assert.Empty(t, d.Structs)
}

func TestScanNoContract(t *testing.T) {
	_, err := Scan("interface IERC20 { function totalSupply() external view returns (uint256); }")
	require.True(t, errors.Is(err, contract.ErrNoContract))

	_, err = Scan("")
	require.ErrorIs(t, err, contract.ErrNoContract)
}

func TestScanFirstContractWins(t *testing.T) {
	src := `
// contract Commented {}
library Math {}
abstract contract Base { }
contract Pool is Base { }
`
	d, err := Scan(src)
	require.NoError(t, err)
	assert.Equal(t, "Base", d.Name)
	assert.Equal(t, []string{"Base", "Pool"}, d.Contracts)
	assert.Equal(t, []string{"Math"}, d.Libraries)
}

const richSource = `
pragma solidity ^0.8.20;

import "./interfaces/IOracle.sol";
import {IERC20, SafeERC20 as SE} from "@openzeppelin/contracts/token/ERC20/utils/SafeERC20.sol";

interface IStaking {
    function stake(uint256 amount) external;
}

contract Staking {
    struct Position {
        uint256 amount;
        uint64 lastUpdate;
        address owner;
        string label;
    }

    uint256 public constant FEE_BPS = 30;
    address payable treasury;
    address public immutable ORACLE;
    int128 internal skew;
    uint256[] public rewardHistory;
    address[] holders;
    mapping(address => uint256) public balances;
    uint256 totalStaked; // running sum
    /* uint256 ghost; */
    uint256 totalStaked;

    function stake(uint256 amount, address memory_ignored) external returns (uint256 shares) {
        uint256 local = amount * FEE_BPS;
        shares = local;
    }

    function batch(uint256[] calldata amounts, bytes memory data) public {}

    function price() external view returns (uint256) { return 1; }

    function owner() external view returns (address payable) { return treasury; }
}
`

func TestScanRichSource(t *testing.T) {
	d, err := Scan(richSource)
	require.NoError(t, err)
	assert.Equal(t, "Staking", d.Name)

	wantVars := []contract.Variable{
		{Type: "uint256", Name: "FEE_BPS"},
		{Type: "address payable", Name: "treasury"},
		{Type: "address", Name: "ORACLE"},
		{Type: "int128", Name: "skew"},
		{Type: "uint256", Name: "totalStaked"},
		{Type: "uint256", Name: "totalStaked"},
	}
	if diff := cmp.Diff(wantVars, d.Variables); diff != "" {
		t.Fatalf("variables (-want +got):\n%s", diff)
	}

	wantArrays := []contract.ArrayDecl{
		{Type: "uint256[]", Name: "rewardHistory"},
		{Type: "address[]", Name: "holders"},
	}
	assert.Equal(t, wantArrays, d.Arrays)

	require.Len(t, d.Structs, 1)
	assert.Equal(t, "Position", d.Structs[0].Name)
	assert.Equal(t, []contract.Param{
		{Type: "uint256", Name: "amount"},
		{Type: "uint64", Name: "lastUpdate"},
		{Type: "address", Name: "owner"},
	}, d.Structs[0].Fields)

	require.Len(t, d.Functions, 5)
	assert.Equal(t, "stake", d.Functions[0].Name)
	assert.Equal(t, "stake", d.Functions[1].Name)
	assert.Equal(t, &contract.Param{Type: "uint256", Name: "shares"}, d.Functions[1].Return)
	assert.Equal(t, []contract.Param{
		{Type: "uint256", Name: "amount"},
		{Type: "address", Name: "memory_ignored"},
	}, d.Functions[1].Params)
	assert.Equal(t, []contract.Param{{Type: "uint256[]", Name: "amounts"}}, d.Functions[2].Params)
	assert.Equal(t, &contract.Param{Type: "uint256", Name: "return"}, d.Functions[3].Return)
	assert.Equal(t, &contract.Param{Type: "address payable", Name: "return"}, d.Functions[4].Return)
	assert.Nil(t, d.Functions[0].Return, "接口声明没有 returns")

	assert.Equal(t, []string{"./interfaces/IOracle.sol", "@openzeppelin/contracts/token/ERC20/utils/SafeERC20.sol"}, d.Imports)
	assert.Equal(t, []string{"IERC20", "SafeERC20"}, d.ImportSymbols)
	assert.Equal(t, []string{"IStaking"}, d.Interfaces)
}

// TestScanReturnScopedToFunction 验证 returns 子句不会跨函数借用。
func TestScanReturnScopedToFunction(t *testing.T) {
	src := `contract A {
  function a(uint256 x) external { }
  function b() external returns (uint256 out) { }
}`
	d, err := Scan(src)
	require.NoError(t, err)
	require.Len(t, d.Functions, 2)
	assert.Nil(t, d.Functions[0].Return)
	assert.Equal(t, "out", d.Functions[1].Return.Name)
}

func TestScanMalformedIsTolerated(t *testing.T) {
	src := `contract Broken { uint256 public a; function f(uint256 x { uint256 y;`
	d, err := Scan(src)
	require.NoError(t, err)
	assert.Equal(t, "Broken", d.Name)
	assert.NotEmpty(t, d.Variables)
}

func TestStripComments(t *testing.T) {
	in := "a // x\nb /* y\nz */ c \"// kept\" '/*'"
	got := StripComments(in)
	assert.Len(t, got, len(in))
	assert.Contains(t, got, `"// kept"`)
	assert.Contains(t, got, `'/*'`)
	assert.NotContains(t, got, "x")
	assert.NotContains(t, got, "y")
	assert.Equal(t, 2, countByte(got, '\n'))
}

func TestMatchBrace(t *testing.T) {
	s := "x { a { b } c } d"
	assert.Equal(t, 14, MatchBrace(s, 2))
	assert.Equal(t, -1, MatchBrace(s, 0))
	assert.Equal(t, -1, MatchBrace("{ {", 0))
}

func countByte(s string, c byte) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			n++
		}
	}
	return n
}
