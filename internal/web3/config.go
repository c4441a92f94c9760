package web3

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	ChainID     int64  `yaml:"chain_id"`
	Explorer    string `yaml:"explorer"`
	Description string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// Artifact is a compiled contract: its ABI and creation bytecode.
type Artifact struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
}

// ABIJSON returns the ABI as a string suitable for abi.JSON.
func (a Artifact) ABIJSON() string {
	return string(a.ABI)
}

// Code decodes the hex bytecode.
func (a Artifact) Code() []byte {
	return common.FromHex(strings.TrimSpace(a.Bytecode))
}

// LoadArtifact reads a solc/hardhat style JSON artifact with "abi" and "bytecode" keys.
func LoadArtifact(path string) (Artifact, error) {
	if strings.TrimSpace(path) == "" {
		return Artifact{}, errors.New("未配置合约构件路径")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("读取合约构件失败: %w", err)
	}
	var artifact Artifact
	if err := json.Unmarshal(content, &artifact); err != nil {
		return Artifact{}, fmt.Errorf("解析合约构件失败: %w", err)
	}
	if len(artifact.ABI) == 0 || len(artifact.Code()) == 0 {
		return Artifact{}, fmt.Errorf("合约构件 %s 缺少 abi 或 bytecode", path)
	}
	return artifact, nil
}
