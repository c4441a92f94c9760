// Package web3 houses blockchain connectivity utilities: the chain client
// contract, YAML chain definitions, compiled contract artifacts and a keyed
// deployer used by the agent's deployment tools.
package web3
