package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/alexflint/go-arg"

	"github.com/m3rciful/storylens/core/buildinfo"
	corecmd "github.com/m3rciful/storylens/core/cmd"
	coreconfig "github.com/m3rciful/storylens/core/config"
	"github.com/m3rciful/storylens/internal/app"
	"github.com/m3rciful/storylens/internal/storage"
)

type args struct {
	Config     string `arg:"--config,env:CONFIG_PATH" help:"Path to the YAML config file." placeholder:"PATH"`
	Mode       string `arg:"--mode,env:APP_MODE" help:"Env file profile: dev, test or prod." default:"dev"`
	DumpSchema bool   `arg:"--dump-schema" help:"Print the user state JSON Schema and exit."`
}

func (args) Version() string {
	return fmt.Sprintf("storylens %s (%s, %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
}

func (args) Description() string {
	return "StoryLens turns a photo into a short illustrated story read aloud, over Telegram."
}

func main() {
	var a args
	arg.MustParse(&a)

	if a.DumpSchema {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(storage.Schema()); err != nil {
			log.Fatalf("dump schema: %v", err)
		}
		return
	}

	err := corecmd.Run(corecmd.Options{
		ConfigPath:        a.Config,
		DefaultConfigPath: "configs/config.yaml",
		Mode:              a.Mode,
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return coreconfig.Load(path)
		},
		Bootstrap: app.Bootstrap,
	})
	if err != nil {
		log.Fatal(err)
	}
}
