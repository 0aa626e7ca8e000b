package main

import (
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/duanyating0315/canu/log"
)

var (
	tgstoreVersion string

	app        = kingpin.New("tgstore", "Inspect and maintain versioned tig stores.")
	configPath = app.Flag("config", "The config file to use. By default, either tgstore.conf in the local directory or /etc/tgstore.conf will be used.").PlaceHolder("PATH").String()
	quiet      = app.Flag("quiet", "Only log warnings and errors. Overrides the config option of the same name.").Short('q').Bool()

	createCmd  = app.Command("create", "Create an empty store at version 0.")
	createPath = createCmd.Arg("PATH", "The store directory.").Required().String()

	statsCmd     = app.Command("stats", "Summarize the versions of a store.")
	statsPath    = statsCmd.Arg("PATH", "The store directory.").Required().String()
	statsVersion = statsCmd.Arg("VERSION", "The version to summarize. By default, every version is.").Default("-1").Int()

	dumpCmd     = app.Command("dump", "Print the index of a version.")
	dumpPath    = dumpCmd.Arg("PATH", "The store directory.").Required().String()
	dumpVersion = dumpCmd.Arg("VERSION", "The version to print.").Required().Uint32()
	dumpTigs    = dumpCmd.Flag("tigs", "Print the children of each tig.").Short('t').Bool()
	dumpDeleted = dumpCmd.Flag("deleted", "Include deleted tigs.").Short('d').Bool()

	purgeCmd     = app.Command("purge", "Remove a version that no later version depends on.")
	purgePath    = purgeCmd.Arg("PATH", "The store directory.").Required().String()
	purgeVersion = purgeCmd.Arg("VERSION", "The version to remove.").Required().Uint32()

	compactCmd     = app.Command("compact", "Rewrite the latest version with only its live tigs, and remove every older version.")
	compactPath    = compactCmd.Arg("PATH", "The store directory.").Required().String()
	compactVersion = compactCmd.Arg("VERSION", "The latest version of the store.").Required().Uint32()
)

func main() {
	app.Version("tgstore version " + tgstoreVersion)
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	config, err := loadConfig(*configPath)
	if err == errNoConfig {
		config = defaultConfig()
	} else if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	config, err = validateConfig(config)
	if err != nil {
		log.Fatal("Invalid config: ", err)
	}

	log.SetQuiet(config.Log.Quiet || *quiet)
	opts := config.storeOptions()

	switch command {
	case createCmd.FullCommand():
		err = runCreate(os.Stdout, *createPath, opts)
	case statsCmd.FullCommand():
		err = runStats(os.Stdout, *statsPath, *statsVersion, opts)
	case dumpCmd.FullCommand():
		err = runDump(os.Stdout, *dumpPath, *dumpVersion, *dumpTigs, *dumpDeleted, opts)
	case purgeCmd.FullCommand():
		err = runPurge(os.Stdout, *purgePath, *purgeVersion, opts)
	case compactCmd.FullCommand():
		err = runCompact(os.Stdout, *compactPath, *compactVersion, opts)
	}

	if err != nil {
		log.Fatal(err)
	}
}
