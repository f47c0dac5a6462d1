package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skillport-dev/skillport/internal/app"
	"github.com/skillport-dev/skillport/internal/installer"
	"github.com/skillport-dev/skillport/internal/skerr"
)

// ExitCoder lets typed errors choose the process exit code.
type ExitCoder interface {
	ExitCode() int
}

func main() {
	root, jsonOut := newRootCmd()
	if err := root.Execute(); err != nil {
		code := skerr.ExitGeneral
		if ex, ok := err.(ExitCoder); ok {
			code = ex.ExitCode()
		}
		if *jsonOut {
			printErrorEnvelope(err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(code)
	}
}

func newRootCmd() (*cobra.Command, *bool) {
	var homeOverride string
	jsonOutput := new(bool)

	newSvc := func() (*app.Service, error) {
		return app.New(app.Options{Home: homeOverride})
	}

	cmd := &cobra.Command{
		Use:           "skillport",
		Short:         "Secure distribution for signed AI agent skills",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "override the SkillPort state directory")
	cmd.PersistentFlags().BoolVar(jsonOutput, "json", false, "emit a single JSON envelope on stdout")

	cmd.AddCommand(newInitCmd(newSvc, jsonOutput))
	cmd.AddCommand(newScanCmd(newSvc, jsonOutput))
	cmd.AddCommand(newExportCmd(newSvc, jsonOutput))
	cmd.AddCommand(newSignCmd(newSvc, jsonOutput))
	cmd.AddCommand(newVerifyCmd(newSvc, jsonOutput))
	cmd.AddCommand(newInstallCmd(newSvc, jsonOutput, false))
	cmd.AddCommand(newInstallCmd(newSvc, jsonOutput, true))
	cmd.AddCommand(newUninstallCmd(newSvc, jsonOutput))
	cmd.AddCommand(newPublishCmd(newSvc, jsonOutput))
	cmd.AddCommand(newPlanCmd(newSvc, jsonOutput))
	cmd.AddCommand(newInspectCmd(newSvc, jsonOutput))
	cmd.AddCommand(newKeysCmd(newSvc, jsonOutput))
	cmd.AddCommand(newConvertCmd(newSvc, jsonOutput))
	cmd.AddCommand(newListCmd(newSvc, jsonOutput))

	return cmd, jsonOutput
}

func newInitCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	var name, author string
	cmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Scaffold a new skill directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.Init(args[0], name, author)
			if err != nil {
				return err
			}
			return print(*jsonOut, res, fmt.Sprintf("initialized %s (key %s)", res.Dir, res.KeyID))
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "skill name (defaults to the directory name)")
	cmd.Flags().StringVar(&author, "author", "", "author slug for the skill id")
	return cmd
}

func newScanCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <dir-or-ssp>",
		Short: "Run the static security scanner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report, err := svc.ScanPath(args[0])
			if err != nil {
				return err
			}
			if err := print(*jsonOut, report, formatScanReport(report)); err != nil {
				return err
			}
			if !report.Passed {
				return skerr.New(skerr.CodeScanFailed, "scan found blocking issues (risk score %d)", report.RiskScore)
			}
			return nil
		},
	}
}

func newExportCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	var out, author string
	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Package and sign a skill directory into an .ssp archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			progress(*jsonOut, "scanning and signing %s", args[0])
			res, err := svc.Export(args[0], out, author)
			if err != nil {
				return err
			}
			return print(*jsonOut, res, fmt.Sprintf("exported %s %s to %s", res.SkillID, res.Version, res.Output))
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path for the archive")
	cmd.Flags().StringVar(&author, "author", "", "author name recorded in the manifest")
	return cmd
}

func newSignCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "sign <file>",
		Short: "Produce a detached signature over a file's exact bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.SignFile(args[0])
			if err != nil {
				return err
			}
			return print(*jsonOut, res, res.Signature)
		},
	}
}

func newVerifyCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:   "verify <ssp>",
		Short: "Verify an archive's checksums and signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.Verify(args[0], keyPath)
			if err != nil {
				return err
			}
			if err := print(*jsonOut, res, formatVerifyResult(res)); err != nil {
				return err
			}
			if !res.ChecksumsValid {
				return skerr.New(skerr.CodeChecksumMismatch, "checksums do not match")
			}
			if res.SignatureChecked && !res.SignatureValid {
				return skerr.New(skerr.CodeSignatureInvalid, "signature does not verify")
			}
			if !res.AuthorSigPresent {
				return skerr.New(skerr.CodeSignatureMissing, "archive has no author signature")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "PEM public key to verify against")
	return cmd
}

func newInstallCmd(newSvc func() (*app.Service, error), jsonOut *bool, dryRun bool) *cobra.Command {
	var force, acceptRisk bool
	use, short := "install <ref>", "Install a skill from an .ssp file or the marketplace"
	if dryRun {
		use, short = "dry-run <ref>", "Run every install gate without writing anything"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			opts := installer.Options{
				Force:          force,
				AcceptRisk:     acceptRisk,
				NonInteractive: *jsonOut || svc.Env.NonInteractive || !stdinIsTerminal(),
			}
			var res *installer.Result
			if dryRun {
				res, err = svc.Installer.DryRun(cmd.Context(), args[0], opts)
			} else {
				progress(*jsonOut, "installing %s", args[0])
				res, err = svc.Installer.Install(cmd.Context(), args[0], opts)
			}
			if err != nil {
				return err
			}
			return print(*jsonOut, res, formatInstallResult(res))
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reinstall even if the same version is installed")
	cmd.Flags().BoolVar(&acceptRisk, "accept-risk", false, "explicitly accept elevated risk non-interactively")
	return cmd
}

func newUninstallCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <id>",
		Short: "Remove an installed skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if err := svc.Installer.Uninstall(cmd.Context(), args[0]); err != nil {
				return err
			}
			return print(*jsonOut, map[string]string{"removed": args[0]}, "removed "+args[0])
		},
	}
}

func newPublishCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <ssp>",
		Short: "Upload a signed archive to the marketplace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			progress(*jsonOut, "verifying and uploading %s", args[0])
			res, err := svc.Publish(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return print(*jsonOut, res, fmt.Sprintf("published %s %s", res.ID, res.Version))
		},
	}
}

func newPlanCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <ref>",
		Short: "Preview what an install would decide",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.PlanInstall(cmd.Context(), args[0], *jsonOut || !stdinIsTerminal())
			if err != nil {
				return err
			}
			return print(*jsonOut, res, formatPlan(res))
		},
	}
}

func newInspectCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <ssp>",
		Short: "Show an archive's manifest, scan, and permission assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.Inspect(args[0])
			if err != nil {
				return err
			}
			return print(*jsonOut, res, formatInspection(res))
		},
	}
}

func newKeysCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	keysCmd := &cobra.Command{Use: "keys", Short: "Manage signing and trusted keys"}

	var force bool
	genCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the default signing keypair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.KeysGenerate(force)
			if err != nil {
				return err
			}
			return print(*jsonOut, res, "generated key "+res.KeyID)
		},
	}
	genCmd.Flags().BoolVar(&force, "force", false, "replace an existing keypair")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the default public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.KeysShow()
			if err != nil {
				return err
			}
			return print(*jsonOut, res, res.PublicPEM)
		},
	}

	var label string
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register the default public key with the marketplace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.KeysRegister(cmd.Context(), label)
			if err != nil {
				return err
			}
			return print(*jsonOut, res, "registered key "+res.KeyID)
		},
	}
	registerCmd.Flags().StringVar(&label, "label", "default", "label stored with the key")

	trustCmd := &cobra.Command{
		Use:   "trust <pem-file>",
		Short: "Trust an author's public key for signature verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.KeysTrust(args[0])
			if err != nil {
				return err
			}
			return print(*jsonOut, res, "trusted key "+res.KeyID)
		},
	}

	keysCmd.AddCommand(genCmd, showCmd, registerCmd, trustCmd)
	return keysCmd
}

func newConvertCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "convert <dir>",
		Short: "Derive a manifest from a plain skill directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			m, err := svc.Convert(args[0], author)
			if err != nil {
				return err
			}
			return print(*jsonOut, m, fmt.Sprintf("%s %s (%s)", m.ID, m.Version, m.Platform))
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "author slug for the skill id")
	return cmd
}

func newListCmd(newSvc func() (*app.Service, error), jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed skills",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			skills, err := svc.Installed()
			if err != nil {
				return err
			}
			return print(*jsonOut, skills, formatInstalled(skills))
		},
	}
}
