//go:build ignore

// build.go - licensor build system
// Usage: go run build.go [-target=TARGET]
// Targets: all, licgen, licensectl, test, clean, release

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	version = "0.1.0"
	module  = "licensor"
)

// BuildContext holds configuration for the build process
type BuildContext struct {
	Verbose bool
	// PayloadSecret is linked into both binaries; licgen and licensectl
	// built with different secrets cannot exchange licenses
	PayloadSecret string
	GOOS          string
	GOARCH        string
}

var (
	rootDir string
	distDir string

	executables = []string{"licgen", "licensectl"}

	releasePlatforms = []struct{ goos, goarch string }{
		{"windows", "amd64"},
		{"linux", "amd64"},
		{"darwin", "arm64"},
	}

	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

func init() {
	cwd, err := os.Getwd()
	if err != nil {
		panic(fmt.Sprintf("Failed to get current directory: %v", err))
	}
	rootDir = cwd
	distDir = filepath.Join(rootDir, "dist")

	if _, err := os.Stat(filepath.Join(rootDir, "go.mod")); os.IsNotExist(err) {
		panic(fmt.Sprintf("go.mod not found in %s; run build.go from the repository root", rootDir))
	}
}

func main() {
	target := flag.String("target", "all", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	secretFile := flag.String("payload-secret-file", "", "File holding the vendor payload secret (required for release)")
	flag.Parse()

	if runtime.GOOS == "windows" {
		colorReset, colorRed, colorGreen, colorYellow, colorBlue, colorCyan = "", "", "", "", "", ""
	}

	printHeader()
	startTime := time.Now()

	buildCtx := &BuildContext{
		Verbose: *verbose,
		GOOS:    runtime.GOOS,
		GOARCH:  runtime.GOARCH,
	}
	if *secretFile != "" {
		secret, err := readSecret(*secretFile)
		if err != nil {
			printError(err.Error())
			os.Exit(1)
		}
		buildCtx.PayloadSecret = secret
	}

	switch *target {
	case "all":
		buildAll(buildCtx)
	case "licgen", "licensectl":
		buildExecutable(*target, buildCtx)
	case "clean":
		clean(buildCtx.Verbose)
	case "test":
		runTests(buildCtx.Verbose)
	case "release":
		buildRelease(buildCtx)
	default:
		showHelp()
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Build completed in %s", time.Since(startTime).Round(time.Millisecond)))
}

func printHeader() {
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println(colorCyan + "        licensor - Build System            " + colorReset)
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println()
}

func printInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", colorBlue, colorReset, msg)
}

func printSuccess(msg string) {
	fmt.Printf("%s[SUCCESS]%s %s\n", colorGreen, colorReset, msg)
}

func printError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}

func printWarning(msg string) {
	fmt.Printf("%s[WARNING]%s %s\n", colorYellow, colorReset, msg)
}

func readSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read payload secret: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if len(secret) < 32 {
		return "", fmt.Errorf("payload secret in %s must be at least 32 characters", path)
	}
	if strings.ContainsAny(secret, " \t\"'") {
		return "", fmt.Errorf("payload secret in %s must not contain spaces or quotes", path)
	}
	return secret, nil
}

// Build all executables for the host platform
func buildAll(ctx *BuildContext) {
	printInfo("Building all executables...")
	if err := os.MkdirAll(distDir, 0755); err != nil {
		printError(fmt.Sprintf("Failed to create %s: %v", distDir, err))
		os.Exit(1)
	}
	for _, name := range executables {
		buildExecutable(name, ctx)
	}
	printSuccess("All executables built successfully!")
}

func gitRevision() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

func ldflags(name string, ctx *BuildContext) string {
	pkg := module + "/cmd/" + name + "/cmd"
	flags := []string{
		"-s", "-w",
		fmt.Sprintf("-X %s.VERSION=%s", pkg, version),
		fmt.Sprintf("-X %s.BUILD_DATE=%s", pkg, time.Now().UTC().Format(time.RFC3339)),
		fmt.Sprintf("-X %s.GIT_REVISION=%s", pkg, gitRevision()),
	}
	if ctx.PayloadSecret != "" {
		flags = append(flags, fmt.Sprintf("-X %s/internal/config.PayloadSecret=%s", module, ctx.PayloadSecret))
	}
	return strings.Join(flags, " ")
}

// Build a specific executable for ctx's platform
func buildExecutable(name string, ctx *BuildContext) {
	printInfo(fmt.Sprintf("Building %s for %s/%s...", name, ctx.GOOS, ctx.GOARCH))

	outDir := distDir
	if ctx.GOOS != runtime.GOOS || ctx.GOARCH != runtime.GOARCH {
		outDir = filepath.Join(distDir, ctx.GOOS+"_"+ctx.GOARCH)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		printError(fmt.Sprintf("Failed to create %s: %v", outDir, err))
		os.Exit(1)
	}
	exeName := name
	if ctx.GOOS == "windows" {
		exeName += ".exe"
	}

	args := []string{"build", "-trimpath", "-ldflags", ldflags(name, ctx), "-o", filepath.Join(outDir, exeName), "./cmd/" + name}
	if ctx.Verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
	}

	cmd := exec.Command("go", args...)
	cmd.Dir = rootDir
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOOS="+ctx.GOOS, "GOARCH="+ctx.GOARCH)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Failed to build %s: %v", name, err))
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Built %s", filepath.Join(outDir, exeName)))
}

func clean(verbose bool) {
	printInfo("Cleaning build artifacts...")
	if err := os.RemoveAll(distDir); err != nil {
		printWarning(fmt.Sprintf("Failed to remove %s: %v", distDir, err))
		return
	}
	if verbose {
		printInfo("Removed " + distDir)
	}
}

func runTests(verbose bool) {
	printInfo("Running Go tests...")
	args := []string{"test", "-race"}
	if verbose {
		args = append(args, "-v")
	}
	args = append(args, "./...")

	cmd := exec.Command("go", args...)
	cmd.Dir = rootDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Go tests failed: %v", err))
		os.Exit(1)
	}
	printSuccess("All tests passed")
}

// Build every executable for every release platform
func buildRelease(ctx *BuildContext) {
	if ctx.PayloadSecret == "" {
		printError("release builds need -payload-secret-file; the development secret must not ship")
		os.Exit(1)
	}
	printWarning("Make sure internal/config/keys/vendor_public.pem holds the production public key")

	clean(ctx.Verbose)
	for _, p := range releasePlatforms {
		platformCtx := *ctx
		platformCtx.GOOS, platformCtx.GOARCH = p.goos, p.goarch
		for _, name := range executables {
			buildExecutable(name, &platformCtx)
		}
	}

	versionFile := filepath.Join(distDir, "VERSION.txt")
	content := fmt.Sprintf("licensor v%s\nBuilt: %s\nCommit: %s\n",
		version, time.Now().Format("2006-01-02 15:04:05"), gitRevision())
	if err := os.WriteFile(versionFile, []byte(content), 0644); err != nil {
		printWarning(fmt.Sprintf("Failed to write %s: %v", versionFile, err))
	}

	printSuccess("Release build completed")
}

func showHelp() {
	fmt.Println("Usage: go run build.go [-target=TARGET] [-v] [-payload-secret-file=FILE]")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  all         Build licgen and licensectl for this platform (default)")
	fmt.Println("  licgen      Build the vendor license generator")
	fmt.Println("  licensectl  Build the customer-side license tool and service")
	fmt.Println("  test        Run all tests with the race detector")
	fmt.Println("  clean       Remove dist/")
	fmt.Println("  release     Build every platform with the production payload secret")
}
