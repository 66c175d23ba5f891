package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"grimm.is/vpcctl/cmd"
	"grimm.is/vpcctl/internal/brand"
	"grimm.is/vpcctl/internal/config"
	"grimm.is/vpcctl/internal/logging"
	"grimm.is/vpcctl/internal/vpc"
)

var printer = cmd.Printer

// globals are accepted before the command and by every command.
type globals struct {
	dryRun bool
	config string
}

func (g *globals) bind(fs *flag.FlagSet) {
	fs.BoolVar(&g.dryRun, "dry-run", g.dryRun, "Print commands without changing the host or state")
	fs.BoolVar(&g.dryRun, "n", g.dryRun, "Dry run (short)")
	fs.StringVar(&g.config, "config", g.config, "Configuration file")
	fs.StringVar(&g.config, "c", g.config, "Configuration file (short)")
}

// parse accepts flags before, between and after positional arguments.
func parse(fs *flag.FlagSet, args []string) []string {
	var positional []string
	for {
		fs.Parse(args)
		args = fs.Args()
		if len(args) == 0 {
			return positional
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// pick returns the flag value when set, otherwise positional argument i.
func pick(flagValue string, positional []string, i int) string {
	if flagValue != "" {
		return flagValue
	}
	if i < len(positional) {
		return positional[i]
	}
	return ""
}

func usageError(format string, args ...any) error {
	return &vpc.Error{Kind: vpc.KindValidation, Op: "usage", Err: fmt.Errorf(format, args...)}
}

func main() {
	g := &globals{}
	top := flag.NewFlagSet(brand.LowerName, flag.ExitOnError)
	top.Usage = printUsage
	g.bind(top)
	top.Parse(os.Args[1:])

	if top.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}
	command, args := top.Arg(0), top.Args()[1:]

	switch command {
	case "help", "-h", "--help":
		printUsage()
		return
	case "version":
		printer.Printf("%s version %s\n", brand.Name, brand.Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, g, command, args)
	stop()
	if err != nil {
		printer.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(vpc.ExitCode(err))
	}
}

func run(ctx context.Context, g *globals, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	g.bind(fs)

	// per-command flags
	var (
		cidr, gateway, policyFile string
		iface, natSubnet          string
		natAll                    bool
		allowCIDRs                string
		port                      int
		ns, pidStr, fromNS        string
		strict, verbose, execute  bool
	)
	mutating := true
	switch command {
	case "create":
		fs.StringVar(&cidr, "cidr", "", "CIDR for the VPC")
	case "add-subnet":
		fs.StringVar(&cidr, "cidr", "", "CIDR for the subnet")
		fs.StringVar(&gateway, "gw", "", "Gateway address assigned to the bridge")
		fs.StringVar(&policyFile, "policy", "", "Policy file merged with the default policy")
	case "enable-nat":
		fs.StringVar(&iface, "interface", "", "Host outbound interface")
		fs.StringVar(&natSubnet, "subnet", "", "Masquerade only this subnet (default: public)")
		fs.BoolVar(&natAll, "all", false, "Masquerade every subnet")
	case "peer":
		fs.StringVar(&allowCIDRs, "allow-cidrs", "", "Comma-separated CIDRs allowed across the peering (default: both VPC CIDRs)")
	case "deploy-app":
		fs.IntVar(&port, "port", 0, "Port for the app (default 8080)")
	case "stop-app":
		fs.StringVar(&ns, "ns", "", "Namespace of the app to stop")
		fs.StringVar(&pidStr, "pid", "", "PID of the app to stop")
	case "test-connectivity":
		fs.StringVar(&fromNS, "from-ns", "", "Namespace to run the test from")
		mutating = false
	case "verify":
		fs.BoolVar(&strict, "strict", false, "Exit non-zero when drift is found")
		mutating = false
	case "check":
		fs.BoolVar(&verbose, "verbose", false, "Print rendered policy commands")
		fs.BoolVar(&verbose, "v", false, "Verbose output (short)")
		mutating = false
	case "run-demo":
		fs.BoolVar(&execute, "execute", false, "Perform the demo for real (requires root)")
		fs.StringVar(&iface, "internet-iface", "", "Host interface for NAT (required with --execute)")
	case "list", "inspect":
		mutating = false
	case "delete", "apply-policy", "cleanup-all":
	default:
		printUsage()
		return usageError("unknown command %q", command)
	}
	pos := parse(fs, args)

	if command == "check" {
		return cmd.RunCheck(g.config, pos, verbose)
	}

	cfg, err := loadConfig(g.config)
	if err != nil {
		return err
	}

	preview := g.dryRun
	if command == "run-demo" && !execute {
		preview = true
	}
	if mutating {
		if err := vpc.CheckPrivilege(command, preview); err != nil {
			return err
		}
		if err := vpc.CheckCommands(command, preview, "ip", cfg.IptablesPath); err != nil {
			return err
		}
	}

	s, err := cmd.Open(cfg, preview)
	if err != nil {
		return &vpc.Error{Kind: vpc.KindExternal, Op: command, Err: err}
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logging.Warn("failed to close session", "error", cerr)
		}
	}()

	need := func(n int, usage string) error {
		if len(pos) < n {
			return usageError("usage: %s %s", brand.LowerName, usage)
		}
		return nil
	}

	switch command {
	case "create":
		if err := need(1, "create <name> [--cidr] <cidr>"); err != nil {
			return err
		}
		cidr = pick(cidr, pos, 1)
		if cidr == "" {
			return usageError("create requires a CIDR")
		}
		return cmd.RunCreate(s, pos[0], cidr)

	case "add-subnet":
		if err := need(2, "add-subnet <vpc> <name> [--cidr] <cidr> [--gw ip] [--policy file]"); err != nil {
			return err
		}
		cidr = pick(cidr, pos, 2)
		if cidr == "" {
			return usageError("add-subnet requires a CIDR")
		}
		return cmd.RunAddSubnet(s, pos[0], pos[1], cidr, gateway, policyFile)

	case "list":
		return cmd.RunList(s)

	case "inspect":
		if err := need(1, "inspect <name>"); err != nil {
			return err
		}
		return cmd.RunInspect(s, pos[0])

	case "delete":
		if err := need(1, "delete <name>"); err != nil {
			return err
		}
		return cmd.RunDelete(s, pos[0])

	case "enable-nat":
		if err := need(1, "enable-nat <name> [--interface] <iface> [--subnet name | --all]"); err != nil {
			return err
		}
		iface = pick(iface, pos, 1)
		if iface == "" {
			return usageError("enable-nat requires an interface")
		}
		return cmd.RunEnableNat(s, pos[0], iface, vpc.NatSelection{Subnet: natSubnet, All: natAll})

	case "peer":
		if err := need(2, "peer <vpc1> <vpc2> [--allow-cidrs a,b]"); err != nil {
			return err
		}
		return cmd.RunPeer(s, pos[0], pos[1], allowCIDRs)

	case "apply-policy":
		if err := need(2, "apply-policy <vpc> <policy-file>"); err != nil {
			return err
		}
		return cmd.RunApplyPolicy(s, pos[0], pos[1])

	case "deploy-app":
		if err := need(2, "deploy-app <vpc> <subnet> [--port] [port]"); err != nil {
			return err
		}
		p, err := intArg(port, pos, 2, cmd.DemoAppPort)
		if err != nil {
			return err
		}
		return cmd.RunDeployApp(s, pos[0], pos[1], p)

	case "stop-app":
		if err := need(1, "stop-app <vpc> [--ns name] [--pid pid]"); err != nil {
			return err
		}
		pid := 0
		if pidStr != "" {
			if pid, err = strconv.Atoi(pidStr); err != nil {
				return usageError("invalid pid %q", pidStr)
			}
		}
		return cmd.RunStopApp(s, pos[0], ns, pid)

	case "test-connectivity":
		if err := need(1, "test-connectivity <target> [port] [--from-ns ns]"); err != nil {
			return err
		}
		p, err := intArg(0, pos, 1, 80)
		if err != nil {
			return err
		}
		return cmd.RunTestConnectivity(ctx, s, pos[0], p, fromNS)

	case "cleanup-all":
		return cmd.RunCleanupAll(s)

	case "verify":
		return cmd.RunVerify(s, strict)

	case "run-demo":
		return cmd.RunDemo(ctx, s, iface)
	}
	return nil
}

// intArg prefers flagValue, then positional argument i, then def.
func intArg(flagValue int, positional []string, i, def int) (int, error) {
	if flagValue != 0 {
		return flagValue, nil
	}
	if i >= len(positional) {
		return def, nil
	}
	n, err := strconv.Atoi(positional[i])
	if err != nil {
		return 0, usageError("invalid port %q", positional[i])
	}
	return n, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, usageError("%v", err)
	}
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, usageError("invalid configuration: %v", errs)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.JSON = cfg.LogJSON
	logging.SetDefault(logging.New(logCfg))
	return cfg, nil
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s [--dry-run|-n] [--config file] <command> [args]

VPC Commands:
  create             Create a VPC: <name> <cidr>
  add-subnet         Add a subnet: <vpc> <name> <cidr> [--gw ip] [--policy file]
  list               List recorded VPCs
  inspect            Print a VPC record: <name>
  delete             Delete a VPC and its resources: <name>
  cleanup-all        Delete every recorded VPC

Connectivity Commands:
  enable-nat         Masquerade subnets out of a host interface: <vpc> <iface> [--subnet name|--all]
  peer               Peer two VPCs: <vpc1> <vpc2> [--allow-cidrs a,b]
  apply-policy       Apply a JSON or HCL policy document: <vpc> <file>

App Commands:
  deploy-app         Start the app in a subnet namespace: <vpc> <subnet> [port]
  stop-app           Stop recorded apps: <vpc> [--ns name] [--pid pid]
  test-connectivity  Probe a target: <ip> [port] [--from-ns ns]

Utility Commands:
  verify             Report host objects and drift against records [--strict]
  check              Validate configuration and policy files [-v] [policy-file...]
  run-demo           Run the demo scenario (preview unless --execute --internet-iface iface)
  version            Print version

Exit codes: 0 ok, 1 validation or not found, 2 missing privilege, 3 command failure.
`, brand.Name, brand.Description, brand.LowerName)
}
