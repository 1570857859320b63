package cmd

const (
	FlagKubeConfig = "kubeconfig"
	FlagGitConfig  = "git-config"
	FlagDryRun     = "dry-run"
	FlagLogFormat  = "log-format"
	FlagEnvFile    = "env-file"
)
