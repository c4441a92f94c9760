package agent

import (
	"regexp"

	"OnchainAgent/internal/registry"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// ActionDeployToken 部署 ERC-20 代币。
	ActionDeployToken = "deploy_token"
	// ActionDeployNFT 部署 ERC-721 合约。
	ActionDeployNFT = "deploy_nft"
)

var addressPattern = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)

// DeployKind 返回部署动作对应的合约类别，非部署动作返回 false。
func DeployKind(action string) (registry.Kind, bool) {
	switch action {
	case ActionDeployToken:
		return registry.KindToken, true
	case ActionDeployNFT:
		return registry.KindNFT, true
	default:
		return "", false
	}
}

// ExtractAddress 从部署动作的输出中提取第一个合约地址。
//
// 非部署动作或文本中没有地址时返回 ("", false)。
func ExtractAddress(action, text string) (string, bool) {
	if _, ok := DeployKind(action); !ok {
		return "", false
	}
	match := addressPattern.FindString(text)
	if match == "" || !common.IsHexAddress(match) {
		return "", false
	}
	return match, true
}
