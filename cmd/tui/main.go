package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"fxbot-go/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== FXBot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit risk limits")
		fmt.Println("3) Edit signal filter")
		fmt.Println("4) Edit instruments")
		fmt.Println("5) Validate and save config")
		fmt.Println("6) Launch engine")
		fmt.Println("7) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editRisk(reader, cfg)
		case "3":
			editFilter(reader, cfg)
		case "4":
			editInstruments(reader, cfg)
		case "5":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "not saved: %v\n", err)
			} else if err := config.Save(*configPath, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			launchEngine(reader, *configPath)
		case "7":
			reloaded, err := loadConfig(*configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	mode := "LIVE"
	if cfg.Risk.DryRunMode {
		mode = "dry run"
	}
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Mode: %s | feed: %s (%s bars)\n", mode, cfg.Feed.Provider, cfg.Feed.Interval)
	fmt.Println("Instruments:", strings.Join(cfg.Feed.Instruments, ", "))
	fmt.Printf("Daily loss limit: %.2f %s\n", cfg.Risk.DailyLossLimit, cfg.Risk.FundingCurrency)
	fmt.Printf("Max order size: %.2f | risk per trade: %.2f%%\n", cfg.Risk.MaxOrderSize, cfg.Risk.RiskFraction*100)
	fmt.Printf("Execution min strength: %.2f\n", cfg.Risk.ExecutionMinStrength)
	fmt.Printf("Filter: confidence >= %.2f, strength >= %.2f, cooldown %s\n",
		cfg.Filter.MinConfidence, cfg.Filter.MinStrength, cfg.Filter.Cooldown())
	if len(cfg.Signals) == 0 {
		fmt.Println("Generators: built-in default set")
	}
	for _, g := range cfg.Signals {
		fmt.Printf("Generator %s weight %.2f\n", g.Type, g.VoteWeight())
	}
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Risk Limits ---")
	cfg.Risk.DailyLossLimit = promptFloat(reader, "Daily loss limit", cfg.Risk.DailyLossLimit)
	cfg.Risk.MaxOrderSize = promptFloat(reader, "Max order size (units)", cfg.Risk.MaxOrderSize)
	cfg.Risk.RiskFraction = promptPercent(reader, "Risk per trade (%)", cfg.Risk.RiskFraction)
	cfg.Risk.ExecutionMinStrength = promptFloat(reader, "Execution min strength", cfg.Risk.ExecutionMinStrength)
	cfg.Risk.DryRunMode = promptBool(reader, "Dry run", cfg.Risk.DryRunMode)
}

func editFilter(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Signal Filter ---")
	cfg.Filter.MinConfidence = promptFloat(reader, "Min confidence", cfg.Filter.MinConfidence)
	cfg.Filter.MinStrength = promptFloat(reader, "Min strength", cfg.Filter.MinStrength)
	cfg.Filter.CooldownMinutes = int(promptFloat(reader, "Cooldown (minutes)", float64(cfg.Filter.CooldownMinutes)))
}

func editInstruments(reader *bufio.Reader, cfg *config.Config) {
	fmt.Printf("Current instruments: %s\n", strings.Join(cfg.Feed.Instruments, ", "))
	fmt.Print("Enter instruments comma-separated (blank to keep): ")
	line, _ := reader.ReadString('\n')
	if strings.TrimSpace(line) == "" {
		return
	}
	cfg.Feed.Instruments = nil
	for _, p := range strings.Split(strings.TrimSpace(line), ",") {
		if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
			cfg.Feed.Instruments = append(cfg.Feed.Instruments, trimmed)
		}
	}
}

func launchEngine(reader *bufio.Reader, path string) {
	fmt.Println("Launching engine (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/engine", "-config", path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start engine: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the engine and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}

func promptBool(reader *bufio.Reader, label string, current bool) bool {
	fmt.Printf("%s [%t]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseBool(line)
	if err != nil {
		fmt.Printf("invalid value, keeping %t\n", current)
		return current
	}
	return val
}

// loadConfig starts from the defaults when the file does not exist yet, so the
// console can write a first config.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}
