package server

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/ije/gox/log"
	"github.com/ije/gox/set"
	"github.com/ije/gox/utils"
	"github.com/ije/rex"
	"github.com/webwriter-app/webwriter-sub004/internal/localstore"
	"github.com/webwriter-app/webwriter-sub004/internal/registry"
	"github.com/webwriter-app/webwriter-sub004/server/config"
	"github.com/webwriter-app/webwriter-sub004/server/storage"
)

// Serve serves the widgetd server
func Serve() {
	var (
		cfile     string
		grant     string
		revoke    string
		debugMode bool
		cfg       *config.Config
		err       error
	)

	flag.StringVar(&cfile, "config", "config.json", "the config file path")
	flag.StringVar(&grant, "grant", "", "grant access to a local package directory, `name=dir`")
	flag.StringVar(&revoke, "revoke", "", "revoke the access to a local package directory")
	flag.BoolVar(&debugMode, "debug", false, "run the server in debug mode")
	flag.Parse()

	if existsFile(cfile) {
		cfg, err = config.Load(cfile)
		if err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		if DEBUG {
			fmt.Printf("%s [info] Config loaded from %s\n", time.Now().Format("2006-01-02 15:04:05"), cfile)
		}
	} else {
		cfg = config.Default()
	}

	if DEBUG || debugMode {
		cfg.LogLevel = "debug"
	} else {
		// disable log color in release build
		os.Setenv("NO_COLOR", "1")
	}

	if err = os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		fmt.Println("failed to create the work directory:", err)
		os.Exit(1)
	}

	handles, err := localstore.OpenBoltRegistry(cfg.Database)
	if err != nil {
		fmt.Println("failed to open the handle database:", err)
		os.Exit(1)
	}

	if grant != "" || revoke != "" {
		err = updateHandles(handles, grant, revoke)
		handles.Close()
		if err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		return
	}

	logger, err := log.New(fmt.Sprintf("file:%s?buffer=32k&fileDateFormat=20060102", path.Join(cfg.LogDir, "server.log")))
	if err != nil {
		fmt.Println("failed to initialize logger:", err)
		os.Exit(1)
	}
	logger.SetLevelByName(cfg.LogLevel)

	if names, err := handles.Names(); err != nil {
		logger.Warnf("failed to list local packages: %v", err)
	} else if len(names) > 0 {
		logger.Infof("local packages: %s", strings.Join(names, ", "))
	}

	accessLogger, err := log.New(fmt.Sprintf("file:%s?buffer=32k&fileDateFormat=20060102", path.Join(cfg.LogDir, "access.log")))
	if err != nil {
		logger.Fatalf("failed to initialize access logger: %v", err)
	}
	accessLogger.SetQuite(true)

	cache, err := storage.OpenCache(cfg.Cache)
	if err != nil {
		logger.Fatalf("failed to open cache(%s): %v", cfg.Cache, err)
	}

	snippets, err := storage.OpenDB(cfg.SnippetsDB)
	if err != nil {
		logger.Fatalf("failed to open snippets db(%s): %v", cfg.SnippetsDB, err)
	}

	listingAPI := cfg.ListingAPI
	if listingAPI == "-" {
		listingAPI = ""
	}
	userAgent := "widgetd/" + VERSION
	fetcher := registry.NewFetcher(registry.Options{
		Registry:   cfg.NpmRegistry,
		Mirror:     cfg.NpmMirror,
		ListingAPI: listingAPI,
		Catalog:    cfg.Catalog,
		Bridge:     localstore.NewBridge(handles),
		UserAgent:  userAgent,
		Timeout:    cfg.FetchTimeout,
		Logger:     logger,
	})

	router, err := NewRouter(Options{
		Origin:       cfg.Origin,
		Fetcher:      fetcher,
		Cache:        cache,
		CacheTTL:     time.Duration(cfg.CacheTTL) * time.Second,
		Snippets:     snippets,
		BanList:      cfg.BanList,
		BuildTarget:  cfg.BuildTarget,
		UserAgent:    userAgent,
		FetchTimeout: cfg.FetchTimeout,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("failed to initialize router: %v", err)
	}

	// add middlewares
	rex.Use(
		rex.Header("Server", "widgetd"),
		cors(cfg.CorsAllowOrigins),
		rex.Logger(logger),
		rex.Optional(rex.AccessLogger(accessLogger), cfg.AccessLog),
		rex.Optional(rex.Compress(), cfg.Compress),
		router.Handle(),
	)

	// start server
	C := rex.Serve(rex.ServerConfig{
		Port: cfg.Port,
	})
	logger.Infof("Server is ready on http://localhost:%d, origin %s", cfg.Port, cfg.Origin)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, syscall.SIGABRT)
	select {
	case <-c:
	case err = <-C:
		logger.Error(err)
	}

	// release resources
	handles.Close()
	snippets.Close()
	logger.FlushBuffer()
	accessLogger.FlushBuffer()
}

func updateHandles(handles *localstore.BoltRegistry, grant string, revoke string) error {
	if revoke != "" {
		if err := handles.Revoke(revoke); err != nil {
			return fmt.Errorf("failed to revoke %s: %w", revoke, err)
		}
		fmt.Printf("revoked %s\n", revoke)
	}
	if grant != "" {
		name, dir := utils.SplitByFirstByte(grant, '=')
		if name == "" || dir == "" {
			return fmt.Errorf("invalid grant %q, should be name=dir", grant)
		}
		if err := handles.Grant(name, dir); err != nil {
			return fmt.Errorf("failed to grant %s: %w", name, err)
		}
		fmt.Printf("granted %s -> %s\n", name, dir)
	}
	return nil
}

func cors(allowOrigins []string) rex.Handle {
	allowList := set.NewReadOnly(allowOrigins...)
	allowAll := allowList.Len() == 0 || allowList.Has("*")
	return func(ctx *rex.Context) any {
		origin := ctx.R.Header.Get("Origin")
		isOptionsMethod := ctx.R.Method == "OPTIONS"
		h := ctx.W.Header()
		if !allowAll {
			if origin != "" {
				if !allowList.Has(origin) {
					return rex.Status(403, "forbidden")
				}
				setCorsHeaders(h, isOptionsMethod, origin)
			} else if isOptionsMethod {
				// not a preflight request
				return rex.Status(405, "method not allowed")
			}
			appendVaryHeader(h, "Origin")
		} else {
			setCorsHeaders(h, isOptionsMethod, "*")
		}
		if isOptionsMethod {
			return rex.NoContent()
		}
		return ctx.Next()
	}
}

func setCorsHeaders(h http.Header, isOptionsMethod bool, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	if isOptionsMethod {
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE")
		h.Set("Access-Control-Allow-Headers", "*")
		h.Set("Access-Control-Max-Age", "86400")
	}
}

func existsFile(filename string) bool {
	fi, err := os.Stat(filename)
	return err == nil && !fi.IsDir() && !strings.HasSuffix(filename, "/")
}
