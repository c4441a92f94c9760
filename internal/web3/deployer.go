package web3

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Deployer signs contract creation transactions with a single key.
//
// Deployments are serialized so that consecutive transactions never race
// for the same account nonce.
type Deployer struct {
	client   Client
	key      *ecdsa.PrivateKey
	from     common.Address
	gasLimit uint64

	mu      sync.Mutex
	chainID *big.Int
}

// DeployerOption customises a Deployer.
type DeployerOption func(*Deployer)

// WithGasLimit fixes the gas limit instead of estimating it per deployment.
func WithGasLimit(limit uint64) DeployerOption {
	return func(d *Deployer) {
		d.gasLimit = limit
	}
}

// WithChainID skips the chain id lookup on first deployment.
func WithChainID(id *big.Int) DeployerOption {
	return func(d *Deployer) {
		if id != nil && id.Sign() > 0 {
			d.chainID = new(big.Int).Set(id)
		}
	}
}

// NewDeployer parses a hex encoded private key (with or without 0x prefix).
func NewDeployer(client Client, privateKeyHex string, opts ...DeployerOption) (*Deployer, error) {
	if client == nil {
		return nil, errors.New("未配置链客户端")
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return nil, errors.New("未配置部署私钥")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("解析部署私钥失败: %w", err)
	}
	return NewDeployerWithKey(client, key, opts...), nil
}

// NewDeployerWithKey builds a Deployer around an already parsed key.
func NewDeployerWithKey(client Client, key *ecdsa.PrivateKey, opts ...DeployerOption) *Deployer {
	d := &Deployer{
		client: client,
		key:    key,
		from:   crypto.PubkeyToAddress(key.PublicKey),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// From returns the deploying account.
func (d *Deployer) From() common.Address {
	return d.from
}

// Deploy sends the creation transaction for artifact with constructor params.
func (d *Deployer) Deploy(ctx context.Context, artifact Artifact, params ...any) (DeploymentResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.chainID == nil {
		id, err := d.client.ChainID(ctx)
		if err != nil {
			return DeploymentResult{}, fmt.Errorf("获取链 ID 失败: %w", err)
		}
		d.chainID = id
	}

	auth, err := bind.NewKeyedTransactorWithChainID(d.key, d.chainID)
	if err != nil {
		return DeploymentResult{}, fmt.Errorf("创建交易签名器失败: %w", err)
	}
	auth.GasLimit = d.gasLimit

	return d.client.DeployContract(ctx, auth, artifact.ABIJSON(), artifact.Code(), params...)
}
