package config

import (
	"github.com/spf13/pflag"
)

// Flags are the command-line options. Set keeps the parsed flag set so Load
// can bind the overriding ones.
type Flags struct {
	ConfigPath string
	EnvFile    string
	Fetch      string
	Kind       string
	Set        *pflag.FlagSet
}

func ParseFlags(args []string) (Flags, error) {
	fs := pflag.NewFlagSet("media-relay-bot", pflag.ContinueOnError)
	f := Flags{Set: fs}
	fs.StringVarP(&f.ConfigPath, "config", "c", "config.yaml", "path to the config file")
	fs.StringVar(&f.EnvFile, "env", ".env", "dotenv file loaded before the config")
	fs.StringVar(&f.Fetch, "fetch", "", "download one URL, print the file path and exit")
	fs.StringVar(&f.Kind, "kind", "video", "media kind for --fetch: video, audio, photo or document")
	fs.String("log-level", "", "override log.level")
	fs.String("temp-dir", "", "override temp_dir")
	fs.Bool("debug", false, "log Bot API traffic")
	err := fs.Parse(args)
	return f, err
}
