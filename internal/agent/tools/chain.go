package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"OnchainAgent/internal/agent"
	xerrors "OnchainAgent/internal/errors"
	"OnchainAgent/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"
)

// Deployer 发送合约创建交易，web3.Deployer 实现了该接口。
type Deployer interface {
	Deploy(ctx context.Context, artifact web3.Artifact, params ...any) (web3.DeploymentResult, error)
}

// DeployToken 返回 deploy_token 工具。initial_supply 以整币为单位，按 18 位精度换算。
func DeployToken(deployer Deployer, artifact web3.Artifact, defaultSupply *big.Int) Tool {
	if defaultSupply == nil || defaultSupply.Sign() <= 0 {
		defaultSupply = big.NewInt(1_000_000)
	}
	return Tool{
		Name:        agent.ActionDeployToken,
		Description: "Deploy a new ERC-20 token contract. Returns the contract address and transaction hash.",
		Parameters: objectSchema([]string{"name", "symbol"}, map[string]any{
			"name":           stringProp("Token name, e.g. Demo Token"),
			"symbol":         stringProp("Token symbol, e.g. DMO"),
			"initial_supply": stringProp("Initial supply in whole tokens, minted to the deployer"),
		}),
		Call: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Name          string      `json:"name"`
				Symbol        string      `json:"symbol"`
				InitialSupply json.Number `json:"initial_supply"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			if err := requireNameSymbol(args.Name, args.Symbol); err != nil {
				return "", err
			}

			supply := new(big.Int).Set(defaultSupply)
			if s := strings.TrimSpace(args.InitialSupply.String()); s != "" {
				parsed, ok := new(big.Int).SetString(s, 10)
				if !ok || parsed.Sign() <= 0 {
					return "", xerrors.New(xerrors.CodeInvalidArgument, "initial_supply 必须是正整数")
				}
				supply = parsed
			}
			units := new(big.Int).Mul(supply, big.NewInt(params.Ether))

			result, err := deploy(ctx, deployer, artifact, args.Name, args.Symbol, units)
			if err != nil {
				return "", err
			}
			return deployedMessage("token", args.Name, args.Symbol, result), nil
		},
	}
}

// DeployNFT 返回 deploy_nft 工具。
func DeployNFT(deployer Deployer, artifact web3.Artifact) Tool {
	return Tool{
		Name:        agent.ActionDeployNFT,
		Description: "Deploy a new ERC-721 NFT collection contract. Returns the contract address and transaction hash.",
		Parameters: objectSchema([]string{"name", "symbol"}, map[string]any{
			"name":     stringProp("Collection name"),
			"symbol":   stringProp("Collection symbol"),
			"base_uri": stringProp("Base URI for token metadata"),
		}),
		Call: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Name    string `json:"name"`
				Symbol  string `json:"symbol"`
				BaseURI string `json:"base_uri"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			if err := requireNameSymbol(args.Name, args.Symbol); err != nil {
				return "", err
			}

			result, err := deploy(ctx, deployer, artifact, args.Name, args.Symbol, args.BaseURI)
			if err != nil {
				return "", err
			}
			return deployedMessage("NFT", args.Name, args.Symbol, result), nil
		},
	}
}

// GetBalance 返回 get_balance 工具。
func GetBalance(client web3.Client) Tool {
	return Tool{
		Name:        "get_balance",
		Description: "Get the ETH balance of an address.",
		Parameters: objectSchema([]string{"address"}, map[string]any{
			"address": stringProp("0x-prefixed account address"),
		}),
		Call: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Address string `json:"address"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			address := strings.TrimSpace(args.Address)
			if !common.IsHexAddress(address) {
				return "", xerrors.New(xerrors.CodeInvalidArgument, "无效的地址: "+address)
			}

			hexBalance, err := client.ExecuteAction(ctx, "eth_getBalance", address)
			if err != nil {
				return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "查询余额失败")
			}
			wei, err := hexutil.DecodeBig(hexBalance)
			if err != nil {
				return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "解析余额失败")
			}
			return fmt.Sprintf("Balance of %s: %s ETH (%s wei)", address, web3.FormatEther(wei), wei.String()), nil
		},
	}
}

// GetLatestBlock 返回 get_latest_block 工具。
func GetLatestBlock(client web3.Client) Tool {
	return Tool{
		Name:        "get_latest_block",
		Description: "Get details about the latest block: number, hash, timestamp, transaction count, unique senders and receivers, total value transferred.",
		Parameters:  objectSchema(nil, map[string]any{}),
		Call: func(ctx context.Context, _ json.RawMessage) (string, error) {
			block, err := client.LatestBlock(ctx)
			if err != nil {
				return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "查询最新区块失败")
			}
			ts := time.Unix(int64(block.Timestamp), 0).UTC().Format(time.RFC3339)
			return fmt.Sprintf(
				"Latest block #%d (%s) at %s: %d transactions, %d unique senders, %d unique receivers, total value %s ETH",
				block.Number, block.Hash.Hex(), ts,
				block.TransactionCount, block.UniqueSenders, block.UniqueReceivers,
				web3.FormatEther(block.TotalValue),
			), nil
		},
	}
}

func requireNameSymbol(name, symbol string) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(symbol) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "name 与 symbol 均不能为空")
	}
	return nil
}

func deploy(ctx context.Context, deployer Deployer, artifact web3.Artifact, params ...any) (web3.DeploymentResult, error) {
	if deployer == nil {
		return web3.DeploymentResult{}, xerrors.New(xerrors.CodeToolFailure, "未配置部署账户")
	}
	result, err := deployer.Deploy(ctx, artifact, params...)
	if err != nil {
		return web3.DeploymentResult{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "部署合约失败")
	}
	return result, nil
}

// deployedMessage 的地址必须出现在交易哈希之前，地址提取只取第一个匹配。
func deployedMessage(kind, name, symbol string, result web3.DeploymentResult) string {
	msg := fmt.Sprintf("Deployed %s %s (%s) at %s", kind, name, symbol, result.ContractAddress.Hex())
	if result.Transaction != nil {
		msg += ", transaction " + result.Transaction.Hash().Hex()
	}
	return msg
}
