package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell/v2"
	"github.com/google/gops/agent"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/monitor"
	"github.com/grigorimaxim422/atom/node"
	"github.com/grigorimaxim422/atom/version"
	"github.com/grigorimaxim422/atom/wallet"
)
import (
	_ "net/http/pprof"
)

func main() {
	if err := agent.Listen(agent.Options{}); err != nil {
		log.Fatal("%v", err)
	}

	cfgPath := "config.yml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg := loadConfig(cfgPath)
	if err := log.InitPath(cfg.BaseCfg.LogDir); err != nil {
		log.Fatal("%v", err)
	}

	// create new shell.
	// by default, new shell includes 'exit', 'help' and 'clear' commands.
	shell := ishell.New()

	shell.Println("atom interactive shell, version " + version.String())

	{
		autoCmd := &ishell.Cmd{
			Name: "wallet",
			Help: "manage hotkeys on disk.",
		}
		autoCmd.AddCmd(&ishell.Cmd{
			Name: "create",
			Help: "create a new hotkey.",
			Func: func(c *ishell.Context) {
				c.ShowPrompt(false)
				defer c.ShowPrompt(true)

				wcfg := cfg.WalletCfg
				c.Printf("Name [%s]: ", wcfg.Name)
				if name := c.ReadLine(); name != "" {
					wcfg.Name = name
				}
				c.Printf("Hotkey [%s]: ", wcfg.Hotkey)
				if hot := c.ReadLine(); hot != "" {
					wcfg.Hotkey = hot
				}

				w := wallet.New(wcfg, cfg.ChainCfg.SS58Prefix)
				mnemonic, err := w.Create(false)
				if err != nil {
					c.Println("create failed:", err)
					return
				}
				c.Println("address: " + w.HotkeySS58())
				c.Println("mnemonic (write it down): " + mnemonic)
			},
		})

		autoCmd.AddCmd(&ishell.Cmd{
			Name: "list",
			Help: "list wallets and their hotkeys.",
			Func: func(c *ishell.Context) {
				names, err := os.ReadDir(cfg.WalletCfg.Path)
				if err != nil {
					c.Println("no wallets:", err)
					return
				}
				c.Printf("-----wallets under %s-----\n", cfg.WalletCfg.Path)
				c.Println("Wallet\tHotkey")
				for _, d := range names {
					if !d.IsDir() {
						continue
					}
					hotkeys, _ := os.ReadDir(filepath.Join(cfg.WalletCfg.Path, d.Name(), "hotkeys"))
					for _, h := range hotkeys {
						c.Printf("%s\t%s\n", d.Name(), h.Name())
					}
				}
			},
		})

		autoCmd.AddCmd(&ishell.Cmd{
			Name: "address",
			Help: "show the configured hotkey address.",
			Func: func(c *ishell.Context) {
				w := wallet.New(cfg.WalletCfg, cfg.ChainCfg.SS58Prefix)
				if err := w.EnsureHotkey(); err != nil {
					c.Println("wallet:", err)
					return
				}
				c.Printf("%s/%s: %s\n", w.Name(), w.HotkeyName(), w.HotkeySS58())
			},
		})

		shell.AddCmd(autoCmd)
	}

	var n node.Node
	{
		autoCmd := &ishell.Cmd{
			Name: "node",
			Help: "start or stop the node.",
		}
		autoCmd.AddCmd(&ishell.Cmd{
			Name: "start",
			Help: "start the node.",
			Func: func(c *ishell.Context) {
				if n != nil {
					c.Println("node has started.")
					return
				}
				built, err := node.NewNode(cfg, node.Hooks{})
				if err != nil {
					c.Println("node start failed:", err)
					return
				}
				built.Init()
				built.Start()
				n = built
				c.Println("node start for[" + cfg.ChainCfg.Endpoint + "] successfully.")
			},
		})

		autoCmd.AddCmd(&ishell.Cmd{
			Name: "stop",
			Help: "stop the node.",
			Func: func(c *ishell.Context) {
				if n == nil {
					c.Println("node has stopped.")
					return
				}
				n.Stop()
				n = nil
				c.Println("node stop successfully.")
			},
		})

		shell.AddCmd(autoCmd)
	}

	{
		autoCmd := &ishell.Cmd{
			Name: "miner",
			Help: "start or stop the miner.",
		}
		autoCmd.AddCmd(&ishell.Cmd{
			Name: "start",
			Help: "start the miner.",
			Func: func(c *ishell.Context) {
				if n == nil {
					c.Println("node should be started.")
					return
				}
				n.StartMiner()
				c.Println("miner start successfully.")
			},
		})

		autoCmd.AddCmd(&ishell.Cmd{
			Name: "stop",
			Help: "stop the miner.",
			Func: func(c *ishell.Context) {
				if n == nil {
					c.Println("node should be started.")
					return
				}
				n.StopMiner()
				c.Println("miner stop successfully.")
			},
		})
		shell.AddCmd(autoCmd)
	}

	{
		autoCmd := &ishell.Cmd{
			Name: "validator",
			Help: "start or stop the validator.",
		}
		autoCmd.AddCmd(&ishell.Cmd{
			Name: "start",
			Help: "start the validator.",
			Func: func(c *ishell.Context) {
				if n == nil {
					c.Println("node should be started.")
					return
				}
				n.StartValidator()
				c.Println("validator start successfully.")
			},
		})

		autoCmd.AddCmd(&ishell.Cmd{
			Name: "stop",
			Help: "stop the validator.",
			Func: func(c *ishell.Context) {
				if n == nil {
					c.Println("node should be started.")
					return
				}
				n.StopValidator()
				c.Println("validator stop successfully.")
			},
		})
		shell.AddCmd(autoCmd)
	}

	{
		autoCmd := &ishell.Cmd{
			Name: "metagraph",
			Help: "inspect or refresh the registry.",
		}
		autoCmd.AddCmd(&ishell.Cmd{
			Name: "show",
			Help: "list neurons.",
			Func: func(c *ishell.Context) {
				if n == nil {
					c.Println("node should be started.")
					return
				}
				mg := n.Metagraph()
				c.Printf("-----netuid %d at block %d-----\n", mg.NetUID(), mg.Block())
				c.Println("UID\tStake\tPermit\tAxon\tHotkey")
				for _, nr := range mg.Neurons() {
					addr := ""
					if nr.Axon != nil {
						addr = nr.Axon.Addr()
					}
					c.Printf("%d\t%.3f\t%v\t%s\t%s\n", nr.UID,
						float64(nr.Stake)/common.RaoPerTao, mg.PermitForUID(nr.UID), addr, nr.Hotkey)
				}
			},
		})

		autoCmd.AddCmd(&ishell.Cmd{
			Name: "sync",
			Help: "pull the registry from the chain now.",
			Func: func(c *ishell.Context) {
				if n == nil {
					c.Println("node should be started.")
					return
				}
				ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				defer cancel()
				if err := n.SyncMetagraph(ctx); err != nil {
					c.Println("sync failed:", err)
					return
				}
				c.Printf("synced %d neurons at block %d.\n", n.Metagraph().N(), n.Metagraph().Block())
			},
		})

		shell.AddCmd(autoCmd)
	}

	{
		autoCmd := &ishell.Cmd{
			Name: "weights",
			Help: "submit weights by hand.",
		}
		autoCmd.AddCmd(&ishell.Cmd{
			Name: "set",
			Help: "set weights for the configured netuid.",
			Func: func(c *ishell.Context) {
				if n == nil {
					c.Println("node should be started.")
					return
				}
				c.ShowPrompt(false)
				defer c.ShowPrompt(true)

				c.Print("Uids (comma separated): ")
				uidsRaw, err := parseList(c.ReadLine())
				if err != nil {
					c.Println("bad uids:", err)
					return
				}
				c.Print("Weights (comma separated): ")
				weightsRaw, err := parseList(c.ReadLine())
				if err != nil {
					c.Println("bad weights:", err)
					return
				}
				if len(uidsRaw) == 0 || len(uidsRaw) != len(weightsRaw) {
					c.Println("uids and weights must be non-empty and the same length.")
					return
				}
				uids := make([]common.UID, len(uidsRaw))
				weights := make([]uint16, len(weightsRaw))
				for i := range uidsRaw {
					uids[i] = common.UID(uidsRaw[i])
					weights[i] = uint16(weightsRaw[i])
				}
				key := cfg.ValidatorCfg.VersionKey
				if key == 0 {
					key = version.Spec()
				}

				ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				defer cancel()
				hash, err := n.Chain().SetWeights(ctx, common.NetUID(cfg.ChainCfg.NetUID), uids, weights, key)
				if err != nil {
					c.Println("set weights failed:", err)
					return
				}
				c.Println("set weights successfully, extrinsic " + hash)
			},
		})

		shell.AddCmd(autoCmd)
	}

	{
		autoCmd := &ishell.Cmd{
			Name: "chain",
			Help: "query the endpoint.",
		}
		autoCmd.AddCmd(&ishell.Cmd{
			Name: "head",
			Help: "show the latest header.",
			Func: func(c *ishell.Context) {
				if n == nil {
					c.Println("node should be started.")
					return
				}
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				header, err := n.Chain().Header(ctx)
				if err != nil {
					c.Println("head failed:", err)
					return
				}
				height, err := header.Height()
				if err != nil {
					c.Println("head failed:", err)
					return
				}
				c.Printf("height %d, parent %s\n", height, header.ParentHash)
			},
		})

		autoCmd.AddCmd(&ishell.Cmd{
			Name: "health",
			Help: "show endpoint health.",
			Func: func(c *ishell.Context) {
				if n == nil {
					c.Println("node should be started.")
					return
				}
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				h, err := n.Chain().Health(ctx)
				if err != nil {
					c.Println("health failed:", err)
					return
				}
				c.Printf("peers %d, syncing %v\n", h.Peers, h.IsSyncing)
			},
		})

		shell.AddCmd(autoCmd)
	}

	{
		autoCmd := &ishell.Cmd{
			Name: "monitor",
			Help: "print stat info.",
		}
		autoCmd.AddCmd(&ishell.Cmd{
			Name: "stat",
			Help: "print monitor stat info.",
			Func: func(c *ishell.Context) {
				stat := monitor.Stat()
				for _, v := range stat {
					if v.Cnt > 0 {
						c.Printf("%s-%s\t %d, %f", v.Type, v.Name, v.Cnt, float64(v.Sum)/float64(v.Cnt))
						c.Println()
					}
				}
			},
		})

		shell.AddCmd(autoCmd)
	}

	{
		autoCmd := &ishell.Cmd{
			Name: "profile",
			Help: "profile.",
		}
		autoCmd.AddCmd(&ishell.Cmd{
			Name: "start",
			Help: "serve pprof on localhost.",
			Func: func(c *ishell.Context) {
				port := "6060"
				if len(c.Args) == 1 {
					port = c.Args[0]
				}
				go func() {
					if err := http.ListenAndServe("localhost:"+port, nil); err != nil {
						log.Error("pprof: %v", err)
					}
				}()
				c.Println("pprof on localhost:" + port)
			},
		})

		shell.AddCmd(autoCmd)
	}

	// run shell
	shell.Run()

	if n != nil {
		n.Stop()
	}
}

func loadConfig(path string) config.Node {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg
	}
	log.Warn("config %s: %v, using defaults", path, err)
	return config.Default()
}

func parseList(s string) ([]uint64, error) {
	var out []uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
