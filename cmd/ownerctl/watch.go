package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	ownership "go-ownership"

	"github.com/eiannone/keyboard"
	"github.com/spf13/cobra"
)

func runWatch(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, cfg Config, m *ownership.Manager) error {
		var (
			caller  = ownership.Identity(cfg.Caller)
			lastMsg string
		)

		printStatus(ctx, m, cfg.Resource, caller, lastMsg)

		// Set up periodic status updates
		var ticker = time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		var sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		if err := keyboard.Open(); err != nil {
			return fmt.Errorf("failed to initialize keyboard: %w", err)
		}
		defer keyboard.Close()

		var done = make(chan struct{})
		defer close(done)

		var keyCh = forwardKeys(done, func() (rune, error) {
			char, _, err := keyboard.GetKey()
			return char, err
		})

		for {
			select {
			case <-ticker.C:
				printStatus(ctx, m, cfg.Resource, caller, lastMsg)
			case key, ok := <-keyCh:
				if !ok {
					return nil
				}
				switch key {
				case 'd', 'D':
					lastMsg = describe(m.DropOwnershipProposal(ctx, cfg.Resource, caller))
					printStatus(ctx, m, cfg.Resource, caller, lastMsg)
				case 'c', 'C':
					lastMsg = describe(m.ClaimOwnership(ctx, cfg.Resource, caller))
					printStatus(ctx, m, cfg.Resource, caller, lastMsg)
				case 'q', 'Q':
					fmt.Printf("\n\nShutting down...\n")
					return nil
				}
			case sig := <-sigCh:
				fmt.Printf("\n\nReceived signal %v, shutting down...\n", sig)
				return nil
			}
		}
	})
}

// forwardKeys sends every key read by getKey on the returned channel until
// getKey fails or done is closed. The channel is closed when forwarding stops.
func forwardKeys(done <-chan struct{}, getKey func() (rune, error)) <-chan rune {
	var keyCh = make(chan rune)
	go func() {
		defer close(keyCh)
		for {
			char, err := getKey()
			if err != nil {
				return
			}
			select {
			case keyCh <- char:
			case <-done:
				return
			}
		}
	}()
	return keyCh
}

func describe(ack ownership.Ack, err error) string {
	if err != nil {
		return fmt.Sprintf("❌ %v", err)
	}
	if ack.NewOwner.IsZero() {
		return fmt.Sprintf("✓ %s", ack.Action)
	}
	return fmt.Sprintf("✓ %s (new owner %s)", ack.Action, ack.NewOwner)
}

func printStatus(ctx context.Context, m *ownership.Manager, resourceID string, caller ownership.Identity, lastMsg string) {
	fmt.Print("\033[2J\033[H") // Clear screen and move cursor to top

	status, err := m.Ownership(ctx, resourceID)
	if err != nil {
		fmt.Printf("Resource: %s\n\n⚠️  %v\n", resourceID, err)
	} else {
		fmt.Print(status.String())
	}

	if caller.IsZero() {
		fmt.Printf("\nActing as: nobody (set --as to drop or claim)\n")
	} else {
		fmt.Printf("\nActing as: %s\n", caller)
	}
	if lastMsg != "" {
		fmt.Printf("Last action: %s\n", lastMsg)
	}

	fmt.Printf("\nControls:\n")
	fmt.Printf("  [d] Drop the pending proposal\n")
	fmt.Printf("  [c] Claim ownership\n")
	fmt.Printf("  [q] Quit\n")
}
