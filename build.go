//go:build ignore

// build.go - featureflow build script
// Usage: go run build.go [-target=TARGET] [-v]
// Targets: all, featureflow, featurectl, test, clean

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

const module = "featureflow"

var (
	distDir = "dist"

	// binaries under ./cmd
	executables = []string{"featureflow", "featurectl"}

	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
)

func main() {
	target := flag.String("target", "all", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	fmt.Println(colorCyan + "=== featureflow build ===" + colorReset)
	startTime := time.Now()

	switch *target {
	case "all":
		for _, name := range executables {
			buildExecutable(name, *verbose)
		}
	case "featureflow", "featurectl":
		buildExecutable(*target, *verbose)
	case "test":
		runTests(*verbose)
	case "clean":
		clean()
	default:
		showHelp()
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Build completed in %s", time.Since(startTime).Round(time.Millisecond)))
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

func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

func buildExecutable(name string, verbose bool) {
	printInfo(fmt.Sprintf("Building %s...", name))

	out := filepath.Join(distDir, name)
	if runtime.GOOS == "windows" {
		out += ".exe"
	}

	ldflags := fmt.Sprintf("-s -w -X %s/pkg/contracts.BuildTime=%s -X %s/pkg/contracts.GitCommit=%s",
		module, time.Now().UTC().Format(time.RFC3339), module, gitCommit())

	args := []string{"build", "-trimpath", "-ldflags", ldflags, "-o", out, "./cmd/" + name}
	if verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
		fmt.Printf("go %s\n", strings.Join(args, " "))
	}

	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Failed to build %s: %v", name, err))
		os.Exit(1)
	}

	if info, err := os.Stat(out); err == nil {
		printSuccess(fmt.Sprintf("Built %s (%.1f MB)", out, float64(info.Size())/1024/1024))
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
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Go tests failed: %v", err))
		os.Exit(1)
	}
	printSuccess("All tests passed")
}

func clean() {
	printInfo("Cleaning " + distDir)
	if err := os.RemoveAll(distDir); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Println("Usage: go run build.go -target=TARGET [-v]")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  all           Build every binary into dist/")
	fmt.Println("  featureflow   Build the service")
	fmt.Println("  featurectl    Build the one-shot CLI")
	fmt.Println("  test          Run go test -race ./...")
	fmt.Println("  clean         Remove dist/")
}
