package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/deepctl/deep/internal/errs"
	"github.com/deepctl/deep/internal/proxy"
	"github.com/deepctl/deep/internal/unit"
	"github.com/deepctl/deep/internal/runtime"
	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:     "host",
	Aliases: []string{"h"},
	Short:   "Manage the host's directories, network, and Caddy service",
}

var hostInitCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"in"},
	Short:   "Initialize host directories, network, and Caddy quadlet",
	RunE:    runHostInit,
}

var hostStatusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Check host health (db, network, caddy)",
	RunE:    runHostStatus,
}

var hostStartCaddyCmd = &cobra.Command{
	Use:     "start-caddy",
	Aliases: []string{"cs"},
	Short:   "Create and start a Caddy quadlet",
	RunE:    runHostStartCaddy,
}

var hostStopCaddyCmd = &cobra.Command{
	Use:     "stop-caddy",
	Aliases: []string{"ct"},
	Short:   "Stop the Caddy service",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if err := unit.SystemctlAny(cmd.Context(), "stop", name+".service"); err != nil {
			return err
		}
		fmt.Printf("caddy service stopped: %s\n", name)
		return nil
	},
}

var hostRestartCaddyCmd = &cobra.Command{
	Use:     "restart-caddy",
	Aliases: []string{"cr"},
	Short:   "Restart the Caddy service",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if err := unit.SystemctlAny(cmd.Context(), "restart", name+".service"); err != nil {
			return err
		}
		fmt.Printf("caddy service restarted: %s\n", name)
		return nil
	},
}

func init() {
	hostInitCmd.Flags().StringP("data-dir", "d", "/srv/deep", "Base data directory")
	hostInitCmd.Flags().StringP("repos-dir", "r", "", "Repository directory (defaults to <data-dir>/repos)")
	hostInitCmd.Flags().StringP("db", "b", "", "SQLite database path (defaults to <data-dir>/deep.db)")
	hostInitCmd.Flags().StringP("caddy-name", "n", "deep-caddy", "Caddy service name")
	hostInitCmd.Flags().StringP("caddy-image", "i", "caddy:2-alpine", "Caddy image")
	hostInitCmd.Flags().Uint16P("http-port", "H", 80, "HTTP port")
	hostInitCmd.Flags().Uint16P("https-port", "S", 443, "HTTPS port")
	hostInitCmd.Flags().BoolP("system", "s", false, "Force system quadlets")
	hostInitCmd.Flags().BoolP("user", "u", false, "Force user quadlets")
	hostInitCmd.Flags().BoolP("skip-caddy-quadlet", "q", false, "Skip writing Caddy quadlet")
	hostInitCmd.Flags().BoolP("skip-caddy-start", "k", false, "Skip starting Caddy service")
	hostInitCmd.Flags().BoolP("skip-network", "N", false, "Skip creating deep-net network")
	hostInitCmd.Flags().BoolP("skip-caddy-check", "C", false, "Skip Caddyfile check")
	hostInitCmd.Flags().BoolP("dry-run", "D", false, "Print actions without executing")

	dbFlag(hostStatusCmd)
	proxyFlags(hostStatusCmd)

	hostStartCaddyCmd.Flags().StringP("image", "i", "caddy:2-alpine", "Caddy image")
	hostStartCaddyCmd.Flags().StringP("name", "n", "deep-caddy", "Caddy service name")
	hostStartCaddyCmd.Flags().StringP("data-dir", "d", "/srv/deep/caddy/data", "Caddy data directory")
	hostStartCaddyCmd.Flags().StringP("config-dir", "c", "/srv/deep/caddy/config", "Caddy config directory")
	hostStartCaddyCmd.Flags().StringP("quadlet-dir", "q", "", "Quadlet directory override")
	hostStartCaddyCmd.Flags().Uint16P("http-port", "H", 80, "HTTP port")
	hostStartCaddyCmd.Flags().Uint16P("https-port", "S", 443, "HTTPS port")
	hostStartCaddyCmd.Flags().BoolP("system", "s", false, "Force system quadlets")
	hostStartCaddyCmd.Flags().BoolP("user", "u", false, "Force user quadlets")

	hostStopCaddyCmd.Flags().StringP("name", "n", "deep-caddy", "Caddy service name")
	hostRestartCaddyCmd.Flags().StringP("name", "n", "deep-caddy", "Caddy service name")

	hostCmd.AddCommand(hostInitCmd, hostStatusCmd, hostStartCaddyCmd, hostStopCaddyCmd, hostRestartCaddyCmd)
}

func runHostInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	reposDir, _ := cmd.Flags().GetString("repos-dir")
	dbPath, _ := cmd.Flags().GetString("db")
	caddyName, _ := cmd.Flags().GetString("caddy-name")
	caddyImage, _ := cmd.Flags().GetString("caddy-image")
	httpPort, _ := cmd.Flags().GetUint16("http-port")
	httpsPort, _ := cmd.Flags().GetUint16("https-port")
	system, _ := cmd.Flags().GetBool("system")
	user, _ := cmd.Flags().GetBool("user")
	skipCaddyQuadlet, _ := cmd.Flags().GetBool("skip-caddy-quadlet")
	skipCaddyStart, _ := cmd.Flags().GetBool("skip-caddy-start")
	skipNetwork, _ := cmd.Flags().GetBool("skip-network")
	skipCaddyCheck, _ := cmd.Flags().GetBool("skip-caddy-check")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if reposDir == "" {
		reposDir = filepath.Join(dataDir, "repos")
	}
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "deep.db")
	}
	caddyDataDir := filepath.Join(dataDir, "caddy", "data")
	caddyConfigDir := filepath.Join(dataDir, "caddy", "config")

	var quadletDir string
	if !skipCaddyQuadlet {
		dir, err := selectQuadletDir(system, user, httpPort, httpsPort)
		if err != nil {
			return err
		}
		quadletDir = dir
	}

	if dryRun {
		printHostInitPlan(dataDir, reposDir, dbPath, caddyName, caddyImage, httpPort, httpsPort,
			quadletDir, skipCaddyQuadlet, skipCaddyStart, skipNetwork, skipCaddyCheck)
		return nil
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return errs.IO("cli", "failed to create "+dataDir, err)
	}
	if err := os.MkdirAll(reposDir, 0o755); err != nil {
		return errs.IO("cli", "failed to create "+reposDir, err)
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.IO("cli", "failed to create "+dir, err)
		}
	}
	if _, err := os.Stat(dbPath); err != nil {
		f, ferr := os.Create(dbPath)
		if ferr != nil {
			return errs.IO("cli", "failed to create "+dbPath, ferr)
		}
		f.Close()
	}

	if !skipNetwork {
		rt, err := runtime.Detect(cmd.Context())
		if err != nil {
			return err
		}
		if err := rt.EnsureNetwork(cmd.Context()); err != nil {
			return err
		}
	}

	if !skipCaddyQuadlet {
		if err := os.MkdirAll(caddyDataDir, 0o755); err != nil {
			return errs.IO("cli", "failed to create "+caddyDataDir, err)
		}
		if err := os.MkdirAll(caddyConfigDir, 0o755); err != nil {
			return errs.IO("cli", "failed to create "+caddyConfigDir, err)
		}
		if err := os.MkdirAll(quadletDir, 0o755); err != nil {
			return errs.IO("cli", "failed to create "+quadletDir, err)
		}
		if err := unit.WriteCaddyQuadlet(unit.CaddyQuadletParams{
			Image: caddyImage, Name: caddyName, HTTPPort: httpPort, HTTPSPort: httpsPort,
			DataDir: caddyDataDir, ConfigDir: caddyConfigDir, QuadletDir: quadletDir,
		}); err != nil {
			return err
		}
		if err := unit.SystemctlForDir(cmd.Context(), quadletDir, "daemon-reload"); err != nil {
			return err
		}
		if !skipCaddyStart {
			if err := unit.SystemctlForDir(cmd.Context(), quadletDir, "enable", "--now", caddyName+".service"); err != nil {
				return err
			}
		}
	}

	if !skipCaddyCheck {
		proxyClient := proxy.New(filepath.Join(caddyConfigDir, "Caddyfile"), caddyName)
		if _, err := proxyClient.ListRoutes(); err != nil {
			return errs.IO("cli", "failed to read caddyfile", err)
		}
	}

	fmt.Println("host initialized")
	fmt.Printf("data_dir=%s\n", dataDir)
	fmt.Printf("repos_dir=%s\n", reposDir)
	fmt.Printf("db=%s\n", dbPath)
	fmt.Printf("caddy_name=%s\n", caddyName)
	return nil
}

func runHostStatus(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer cat.Close()
	proxyClient, err := openProxy(cmd)
	if err != nil {
		return err
	}

	dbOK := cat.Ping(cmd.Context()) == nil

	rt, err := runtime.Detect(cmd.Context())
	if err != nil {
		return err
	}
	netOK := rt.NetworkExists(cmd.Context())

	caddyOK := false
	if _, err := proxyClient.ListRoutes(); err == nil {
		active, err := unit.SystemctlActiveAny(cmd.Context(), proxyClient.ContainerName())
		caddyOK = err == nil && active
	}

	fmt.Printf("db_ok=%t\n", dbOK)
	fmt.Printf("network_ok=%t\n", netOK)
	fmt.Printf("caddy_ok=%t\n", caddyOK)

	if !dbOK {
		return errs.External("cli", "database check failed", nil)
	}
	if !netOK {
		return errs.External("cli", "deep-net missing", nil)
	}
	if !caddyOK {
		return errs.External("cli", "caddy service not reachable", nil)
	}
	return nil
}

func runHostStartCaddy(cmd *cobra.Command, args []string) error {
	image, _ := cmd.Flags().GetString("image")
	name, _ := cmd.Flags().GetString("name")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	configDir, _ := cmd.Flags().GetString("config-dir")
	quadletDir, _ := cmd.Flags().GetString("quadlet-dir")
	httpPort, _ := cmd.Flags().GetUint16("http-port")
	httpsPort, _ := cmd.Flags().GetUint16("https-port")
	system, _ := cmd.Flags().GetBool("system")
	user, _ := cmd.Flags().GetBool("user")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return errs.IO("cli", "failed to create "+dataDir, err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return errs.IO("cli", "failed to create "+configDir, err)
	}
	if quadletDir == "" {
		dir, err := selectQuadletDir(system, user, httpPort, httpsPort)
		if err != nil {
			return err
		}
		quadletDir = dir
	}
	if err := os.MkdirAll(quadletDir, 0o755); err != nil {
		return errs.IO("cli", "failed to create "+quadletDir, err)
	}
	if err := unit.WriteCaddyQuadlet(unit.CaddyQuadletParams{
		Image: image, Name: name, HTTPPort: httpPort, HTTPSPort: httpsPort,
		DataDir: dataDir, ConfigDir: configDir, QuadletDir: quadletDir,
	}); err != nil {
		return err
	}
	if err := unit.SystemctlForDir(cmd.Context(), quadletDir, "daemon-reload"); err != nil {
		return err
	}
	if err := unit.SystemctlForDir(cmd.Context(), quadletDir, "enable", "--now", name+".service"); err != nil {
		return err
	}
	fmt.Printf("caddy service running: %s\n", name)
	return nil
}

// selectQuadletDir picks the systemd quadlet directory to use, honoring
// explicit --system/--user overrides and falling back to whichever scope
// can actually bind the requested ports.
func selectQuadletDir(system, user bool, httpPort, httpsPort uint16) (string, error) {
	if system && user {
		return "", errs.Validation("cli", "choose only one of --system or --user", nil)
	}
	minPort := httpPort
	if httpsPort < minPort {
		minPort = httpsPort
	}
	needsLow := minPort < 1024

	if user {
		if needsLow && !userCanBindLowPorts(minPort) {
			return "", errs.Validation("cli", "user quadlets cannot bind to ports <1024; use --system or set net.ipv4.ip_unprivileged_port_start=0", nil)
		}
		return userQuadletDir()
	}
	if system {
		return "/etc/containers/systemd", nil
	}
	if needsLow {
		if userCanBindLowPorts(minPort) {
			return userQuadletDir()
		}
		return "/etc/containers/systemd", nil
	}
	return userQuadletDir()
}

func userQuadletDir() (string, error) {
	home, ok := os.LookupEnv("HOME")
	if !ok || home == "" {
		return "", errs.Validation("cli", "HOME not set for user quadlets", nil)
	}
	return filepath.Join(home, ".config", "containers", "systemd"), nil
}

func userCanBindLowPorts(port uint16) bool {
	raw, err := os.ReadFile("/proc/sys/net/ipv4/ip_unprivileged_port_start")
	if err != nil {
		return false
	}
	value, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 16)
	if err != nil {
		return false
	}
	return uint16(value) <= port
}

func printHostInitPlan(dataDir, reposDir, dbPath, caddyName, caddyImage string, httpPort, httpsPort uint16,
	quadletDir string, skipCaddyQuadlet, skipCaddyStart, skipNetwork, skipCaddyCheck bool) {
	caddyDataDir := filepath.Join(dataDir, "caddy", "data")
	caddyConfigDir := filepath.Join(dataDir, "caddy", "config")

	fmt.Println("dry-run: host init")
	fmt.Printf("data_dir=%s\n", dataDir)
	fmt.Printf("repos_dir=%s\n", reposDir)
	fmt.Printf("db=%s\n", dbPath)
	if skipNetwork {
		fmt.Println("would skip network creation")
	} else {
		fmt.Println("would ensure podman network " + runtime.NetworkName)
	}
	if skipCaddyQuadlet {
		fmt.Println("would skip caddy quadlet creation")
	} else {
		fmt.Printf("caddy_name=%s\n", caddyName)
		fmt.Printf("caddy_image=%s\n", caddyImage)
		fmt.Printf("caddy_ports=%d/%d\n", httpPort, httpsPort)
		fmt.Printf("caddy_data_dir=%s\n", caddyDataDir)
		fmt.Printf("caddy_config_dir=%s\n", caddyConfigDir)
		fmt.Printf("quadlet_dir=%s\n", quadletDir)
		fmt.Printf("would write quadlet: %s\n", filepath.Join(quadletDir, caddyName+".container"))
		if skipCaddyStart {
			fmt.Println("would skip caddy service start")
		} else {
			fmt.Println("would enable/start caddy service")
		}
	}
	if skipCaddyCheck {
		fmt.Println("would skip caddyfile check")
	} else {
		fmt.Println("would validate caddyfile accessibility")
	}
}
