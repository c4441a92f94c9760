package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"OnchainAgent/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// chainBackend is the subset of ethclient.Client the client depends on. The
// simulated backend's client satisfies it as well.
type chainBackend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*coretypes.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	backend   chainBackend
	commit    func()
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
	}, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend. Every deployment
// is committed into a new block immediately.
func NewSimulatedClient(name string, backend *simulated.Backend) *Client {
	return &Client{
		name:    name,
		notes:   "simulated backend",
		backend: backend.Client(),
		commit:  func() { backend.Commit() },
	}
}

// Name returns the chain name from the chain definitions.
func (c *Client) Name() string {
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ChainID returns the network's chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return id, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// ExecuteAction runs small helper RPC calls for the agent layer.
func (c *Client) ExecuteAction(ctx context.Context, action, address string) (string, error) {
	if c == nil || c.backend == nil {
		return "", errors.New("未初始化的以太坊客户端")
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return "", errors.New("链上操作不能为空")
	}

	switch action {
	case "eth_getBalance":
		addr, err := parseAddress(action, address)
		if err != nil {
			return "", err
		}
		balance, err := c.backend.BalanceAt(ctx, addr, nil)
		if err != nil {
			return "", fmt.Errorf("查询余额失败: %w", err)
		}
		return toHexBig(balance), nil
	case "eth_getTransactionCount":
		addr, err := parseAddress(action, address)
		if err != nil {
			return "", err
		}
		nonce, err := c.backend.PendingNonceAt(ctx, addr)
		if err != nil {
			return "", fmt.Errorf("查询交易计数失败: %w", err)
		}
		return fmt.Sprintf("0x%x", nonce), nil
	default:
		return "", fmt.Errorf("暂不支持的链上操作: %s", action)
	}
}

// LatestBlock summarises the transactions of the head block.
func (c *Client) LatestBlock(ctx context.Context) (web3.BlockSummary, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.BlockSummary{}, err
	}
	block, err := c.backend.BlockByNumber(ctx, nil)
	if err != nil {
		return web3.BlockSummary{}, fmt.Errorf("获取区块信息失败: %w", err)
	}

	signer := coretypes.LatestSignerForChainID(chainID)
	senders := make(map[common.Address]struct{})
	receivers := make(map[common.Address]struct{})
	total := new(big.Int)
	for _, tx := range block.Transactions() {
		if from, err := coretypes.Sender(signer, tx); err == nil {
			senders[from] = struct{}{}
		}
		if to := tx.To(); to != nil {
			receivers[*to] = struct{}{}
		}
		total.Add(total, tx.Value())
	}

	return web3.BlockSummary{
		Number:           block.NumberU64(),
		Hash:             block.Hash(),
		Timestamp:        block.Time(),
		TransactionCount: len(block.Transactions()),
		UniqueSenders:    len(senders),
		UniqueReceivers:  len(receivers),
		TotalValue:       total,
	}, nil
}

// DeployContract sends the contract creation transaction using the provided
// transact opts and bytecode.
func (c *Client) DeployContract(ctx context.Context, auth *bind.TransactOpts, abiJSON string, bytecode []byte, params ...any) (web3.DeploymentResult, error) {
	if auth == nil {
		return web3.DeploymentResult{}, errors.New("未提供交易签名器")
	}
	if c == nil || c.backend == nil {
		return web3.DeploymentResult{}, errors.New("未初始化的以太坊客户端")
	}
	if len(bytecode) == 0 {
		return web3.DeploymentResult{}, errors.New("合约字节码不能为空")
	}

	parsedABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return web3.DeploymentResult{}, fmt.Errorf("解析 ABI 失败: %w", err)
	}

	originalCtx := auth.Context
	auth.Context = ctx
	defer func() { auth.Context = originalCtx }()

	address, tx, _, err := bind.DeployContract(auth, parsedABI, bytecode, c.backend, params...)
	if err != nil {
		return web3.DeploymentResult{}, fmt.Errorf("部署合约失败: %w", err)
	}

	if c.commit != nil {
		c.commit()
	}

	// 构造函数回滚时交易仍会上链，但地址上没有代码。
	if _, err := bind.WaitDeployed(ctx, c.backend, tx); err != nil {
		return web3.DeploymentResult{}, fmt.Errorf("合约部署未生效: %w", err)
	}

	return web3.DeploymentResult{ContractAddress: address, Transaction: tx}, nil
}

func parseAddress(action, address string) (common.Address, error) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return common.Address{}, fmt.Errorf("%s 需要提供地址", action)
	}
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%s 的地址格式不正确: %s", action, addr)
	}
	return common.HexToAddress(addr), nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
