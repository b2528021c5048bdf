package main

import "github.com/ever-tezos/faucet-relayer/cmd"

func main() {
	cmd.Execute()
}
