package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Meta: 可选的轻量元信息；核心流程不读取其键值。
type Meta map[string]string

// Variant: 标注文档变体。每个合约恰好产出两份文档（token 单位 / 金融语义）。
type Variant string

const (
	VariantToken     Variant = "token"
	VariantFinancial Variant = "financial"
)

// Variants: 固定顺序（token 在前），编排层与解码器均按此顺序处理。
var Variants = []Variant{VariantToken, VariantFinancial}

// Suffix 返回该变体的工件后缀（<Name>_types.txt / <Name>_ftypes.txt）。
func (v Variant) Suffix() string {
	switch v {
	case VariantToken:
		return "_types.txt"
	case VariantFinancial:
		return "_ftypes.txt"
	}
	return ""
}

// SectionMarker 返回合并响应中该变体分节的标记名（不含冒号）。
func (v Variant) SectionMarker() string {
	switch v {
	case VariantToken:
		return "TOKEN_TYPE_FILE"
	case VariantFinancial:
		return "FINANCIAL_TYPE_FILE"
	}
	return ""
}

// Valid 报告 v 是否为已知变体。
func (v Variant) Valid() bool { return v == VariantToken || v == VariantFinancial }

// ArtifactName 返回合约在某变体下的工件名。
func ArtifactName(contractName string, v Variant) ArtifactID {
	return ArtifactID(contractName + v.Suffix())
}

// Param: 类型 + 名称（函数参数、返回值、结构体字段共用）。
type Param struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Variable: 状态变量声明。
type Variable struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// ArrayDecl: 动态数组声明；Type 含 "[]" 后缀。
type ArrayDecl struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// FunctionSig: 函数签名。
// RawParams 为括号内原文（已去注释），Params 为二次提取结果；
// Return 仅记录 returns 子句中的首个返回值，未命名时名称为 "return"。
type FunctionSig struct {
	Name      string  `json:"name"`
	RawParams string  `json:"params"`
	Params    []Param `json:"parameters"`
	Return    *Param  `json:"return,omitempty"`
}

// StructDecl: 结构体及其基础类型字段。
type StructDecl struct {
	Name   string  `json:"name"`
	Fields []Param `json:"fields"`
}

// TokenHint: 源码中识别到的已知代币引用（地址字面量或变量名）。
type TokenHint struct {
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Address  string `json:"address,omitempty"`
	// Origin: 命中位置，地址字面量时为规范化地址，变量命中时为变量名。
	Origin string `json:"origin"`
}

// Summary: 跨越边界发送给标注方的结构化载荷。
// 约束：只读；两个变体任务共享同一份 Summary，不得就地修改。
type Summary struct {
	FileID          FileID             `json:"-"`
	Contract        ContractDescriptor `json:"contract"`
	Source          string             `json:"-"`
	SourceTruncated bool               `json:"sourceTruncated,omitempty"`
	Hints           []TokenHint        `json:"tokenHints,omitempty"`
}
