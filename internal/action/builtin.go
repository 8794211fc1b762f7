package action

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

func builtins() []entry {
	return []entry{
		{
			info: Info{
				Name:        "actions/checkout",
				Description: "Verify the working directory is a git work tree and optionally check out a ref",
				Builtin:     true,
				Inputs: []Input{
					{Name: "ref", Description: "Branch, tag or SHA to check out"},
					{Name: "fetch-depth", Description: "Commits to fetch for ref (0 = all)", Default: "1"},
					{Name: "submodules", Description: "Update submodules recursively", Default: "false"},
				},
			},
			action: Func(checkoutCommand),
		},
		{
			info: Info{
				Name:        "actions-rs/toolchain",
				Description: "Install a Rust toolchain with rustup",
				Builtin:     true,
				Inputs: []Input{
					{Name: "toolchain", Description: "Toolchain channel (stable, beta, nightly, 1.x)", Default: "stable"},
					{Name: "profile", Description: "rustup profile (minimal, default, complete)"},
					{Name: "components", Description: "Comma-separated components (rustfmt, clippy)"},
					{Name: "target", Description: "Additional target triple"},
					{Name: "override", Description: "Set the toolchain as directory override", Default: "false"},
					{Name: "default", Description: "Set the toolchain as default", Default: "false"},
				},
			},
			action: Func(toolchainCommand),
		},
		{
			info: Info{
				Name:        "actions-rs/cargo",
				Description: "Invoke a cargo subcommand",
				Builtin:     true,
				Inputs: []Input{
					{Name: "command", Description: "Cargo subcommand", Required: true},
					{Name: "args", Description: "Arguments passed to the subcommand"},
					{Name: "toolchain", Description: "Toolchain override (+toolchain)"},
				},
			},
			action: Func(cargoCommand),
		},
	}
}

func checkoutCommand(inputs map[string]string) (string, error) {
	parts := []string{"git rev-parse --is-inside-work-tree >/dev/null"}

	if ref := inputs["ref"]; ref != "" {
		depth, err := strconv.Atoi(inputs["fetch-depth"])
		if err != nil || depth < 0 {
			return "", fmt.Errorf("invalid fetch-depth %q", inputs["fetch-depth"])
		}
		fetch := []string{"git", "fetch", "--quiet"}
		if depth > 0 {
			fetch = append(fetch, "--depth", strconv.Itoa(depth))
		}
		fetch = append(fetch, "origin", ref)
		parts = append(parts, shellquote.Join(fetch...), "git checkout --quiet FETCH_HEAD")
	}

	submodules, err := parseBool("submodules", inputs["submodules"])
	if err != nil {
		return "", err
	}
	if submodules {
		parts = append(parts, "git submodule update --init --recursive")
	}

	return strings.Join(parts, " && "), nil
}

func toolchainCommand(inputs map[string]string) (string, error) {
	toolchain := inputs["toolchain"]

	install := []string{"rustup", "toolchain", "install", toolchain}
	if profile := inputs["profile"]; profile != "" {
		install = append(install, "--profile", profile)
	}
	for _, component := range splitList(inputs["components"]) {
		install = append(install, "--component", component)
	}
	if target := inputs["target"]; target != "" {
		install = append(install, "--target", target)
	}
	parts := []string{shellquote.Join(install...)}

	setDefault, err := parseBool("default", inputs["default"])
	if err != nil {
		return "", err
	}
	if setDefault {
		parts = append(parts, shellquote.Join("rustup", "default", toolchain))
	}

	override, err := parseBool("override", inputs["override"])
	if err != nil {
		return "", err
	}
	if override {
		parts = append(parts, shellquote.Join("rustup", "override", "set", toolchain))
	}

	return strings.Join(parts, " && "), nil
}

func cargoCommand(inputs map[string]string) (string, error) {
	argv := []string{"cargo"}
	if toolchain := inputs["toolchain"]; toolchain != "" {
		argv = append(argv, "+"+strings.TrimPrefix(toolchain, "+"))
	}
	argv = append(argv, inputs["command"])

	args, err := shellquote.Split(inputs["args"])
	if err != nil {
		return "", fmt.Errorf("invalid args %q: %w", inputs["args"], err)
	}
	argv = append(argv, args...)

	return shellquote.Join(argv...), nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseBool(name, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("input %s: %q is not a boolean", name, value)
	}
	return b, nil
}
