package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/client"
)

// transferPlan is a bulk transfer file. Scalars decode into the string
// fields as written, so unquoted addresses and amounts keep every digit.
type transferPlan struct {
	Concurrency int               `yaml:"concurrency"`
	Transfers   []plannedTransfer `yaml:"transfers"`
}

type plannedTransfer struct {
	FromKeypair string `yaml:"from_keypair"`
	ToAddress   string `yaml:"to_address"`
	Amount      string `yaml:"amount"`
}

type transferResult struct {
	From           types.Pubkey
	To             types.Pubkey
	Lamports       uint64
	Signature      types.Signature
	ProcessingTime time.Duration
	Err            error
}

// loadTransferPlan reads a YAML bulk transfer file.
func loadTransferPlan(path string) (*transferPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading transfer file %s", path)
	}

	plan := transferPlan{Concurrency: 4}
	if err := yaml.Unmarshal(raw, &plan); err != nil {
		return nil, errors.Wrap(err, "unable to decode transfer file")
	}
	if len(plan.Transfers) == 0 {
		return nil, errors.Errorf("transfer file %s lists no transfers", path)
	}
	if plan.Concurrency < 1 {
		plan.Concurrency = 1
	}
	return &plan, nil
}

// runTransfers executes the plan with up to plan.Concurrency transfers in
// flight. Results are in plan order.
func runTransfers(ctx context.Context, c *client.Client, plan *transferPlan) []transferResult {
	results := make([]transferResult, len(plan.Transfers))
	work := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < plan.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				results[i] = executeTransfer(ctx, c, plan.Transfers[i])
			}
		}()
	}

	for i := range plan.Transfers {
		work <- i
	}
	close(work)
	wg.Wait()
	return results
}

func executeTransfer(ctx context.Context, c *client.Client, transfer plannedTransfer) (result transferResult) {
	start := time.Now()
	defer func() {
		result.ProcessingTime = time.Since(start)
	}()

	from, err := types.LoadKeypair(transfer.FromKeypair)
	if err != nil {
		result.Err = errors.Wrap(err, "failed to load keypair")
		return result
	}
	result.From = from.Pubkey()

	result.To, err = types.PubkeyFromBase58(transfer.ToAddress)
	if err != nil {
		result.Err = errors.Wrapf(err, "invalid destination address %q", transfer.ToAddress)
		return result
	}
	result.Lamports, err = client.ParseAmount(transfer.Amount)
	if err != nil {
		result.Err = err
		return result
	}

	result.Signature, result.Err = c.Transfer(ctx, from, result.To, result.Lamports)
	return result
}

type bulkTransferCmd struct {
	file string
}

func (*bulkTransferCmd) Name() string     { return "bulk-transfer" }
func (*bulkTransferCmd) Synopsis() string { return "execute the transfers listed in a YAML file" }
func (*bulkTransferCmd) Usage() string {
	return `x1-vault bulk-transfer -f <file>

  Executes every transfer of the file concurrently and prints a summary.

    concurrency: 4
    transfers:
      - from_keypair: alice.json
        to_address: <pubkey>
        amount: "1.5"
`
}

func (c *bulkTransferCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "transfers.yaml", "bulk transfer file")
}

func (c *bulkTransferCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	plan, err := loadTransferPlan(c.file)
	if err != nil {
		return fail(err)
	}
	rpc, _, err := newClient()
	if err != nil {
		return fail(err)
	}

	log := logrus.StandardLogger().WithField("type", "bulk-transfer")
	log.WithFields(logrus.Fields{
		"transfers":   len(plan.Transfers),
		"concurrency": plan.Concurrency,
	}).Info("starting transfers")

	start := time.Now()
	results := runTransfers(ctx, rpc, plan)

	var failed int
	for i, result := range results {
		if result.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "#%d %s -> %s: failed after %v: %v\n",
				i+1, result.From, result.To, result.ProcessingTime.Round(time.Millisecond), result.Err)
			continue
		}
		fmt.Printf("#%d %s -> %s: %s XNT in %v, signature %s\n",
			i+1, result.From, result.To, client.FormatLamports(result.Lamports),
			result.ProcessingTime.Round(time.Millisecond), result.Signature)
	}
	fmt.Printf("%d of %d transfers succeeded in %v\n", len(results)-failed, len(results), time.Since(start).Round(time.Millisecond))

	if failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
