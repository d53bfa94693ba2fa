package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/usnistgov/tactile"
	"github.com/usnistgov/tactile/internal/tactiledb"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err := os.MkdirAll(dir, 0775); err != nil {
			return "", err
		}
	}

	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper says where to find the config file, sets defaults, and reads it.
func setupViper(dotTactile string) error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("database.addr", tactiledb.DefaultAddr)
	viper.SetDefault("database.enable", false)
	viper.SetDefault("drawings", filepath.Join(dotTactile, "drawings"))

	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotTactile, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(filepath.FromSlash("/etc/tactile"))
	viper.AddConfigPath(dotTactile)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	logger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return logger
}

func main() {
	buildDate = strings.ReplaceAll(buildDate, ".", " ") // workaround for Make problems
	tactile.Build.Date = buildDate
	tactile.Build.Githash = githash
	tactile.Build.Gitdate = gitdate
	tactile.Build.Summary = fmt.Sprintf("Tactile server version %s (git commit %s of %s)",
		tactile.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		tactile.Build.Host = host
	} else {
		tactile.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	pingDB := flag.Bool("pingdb", false, "check the run-history database connection and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is tactile server version %s\n", tactile.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}

	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	dotTactile := filepath.Join(HOME, ".tactile")

	// Find config file, creating it if needed, and read it.
	if err := setupViper(dotTactile); err != nil {
		panic(err)
	}

	if *pingDB {
		version, err := tactiledb.PingServer(viper.GetString("database.addr"))
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Printf("ClickHouse server is alive. Version:\n%s\n", version)
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is tactile server version %s (git commit %s)\n", tactile.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Start logging problems and updates to 2 log files.
	logdir := filepath.Join(dotTactile, "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	tactile.ProblemLogger = startLogger(problemname)
	tactile.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging client updates to %s\n\n", logname)
	tactile.UpdateLogger.Printf("\n\n\n\n%s", banner)

	abort := make(chan struct{})
	defer close(abort)

	db := tactiledb.DummyDBConnection()
	if viper.GetBool("database.enable") {
		activity := &tactiledb.ActivityMessage{
			ID:        tactiledb.NewID(),
			Hostname:  tactile.Build.Host,
			Githash:   githash,
			Version:   tactile.Build.Version,
			GoVersion: runtime.Version(),
			CPUs:      runtime.NumCPU(),
			Start:     tactile.StartTime,
			End:       time.Now(),
		}
		db = tactiledb.StartDBConnection(viper.GetString("database.addr"), activity, abort)
		if !db.IsConnected() {
			tactile.ProblemLogger.Printf("run history is not recorded: %v", db.Err())
		}
	}

	clientUpdates, err := tactile.StartClientUpdater(tactile.Ports.Status, abort)
	if err != nil {
		log.Fatal(err)
	}
	if err := tactile.RunRPCServer(tactile.Ports.RPC, clientUpdates, db, true); err != nil {
		log.Println(err)
	}
	writeMemoryProfile(memprofile)
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}

	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
