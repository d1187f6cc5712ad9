// Command diskmap-cli operates on a string-keyed, string-valued diskmap
// file from the shell: open/create, get, put, delete, compact, stats, and
// verify. Built on urfave/cli/v2, the same CLI library the teacher's
// command surface uses for subcommand dispatch and flag parsing.
package main

import (
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/rpcpool/diskmap/diskmap"
	"github.com/rpcpool/diskmap/serializer"
)

var log = logging.Logger("diskmap-cli")

func main() {
	app := &cli.App{
		Name:  "diskmap-cli",
		Usage: "inspect and mutate a diskmap file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "path to the diskmap file"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				_ = logging.SetLogLevel("*", "debug")
			}
			return nil
		},
		Commands: []*cli.Command{
			getCommand,
			putCommand,
			deleteCommand,
			compactCommand,
			statsCommand,
			verifyCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openMap(c *cli.Context, readOnly bool) (*diskmap.Map[string, string], error) {
	return diskmap.Open(c.String("file"), serializer.KeyString, serializer.String, diskmap.WithReadOnly(readOnly))
}

var getCommand = &cli.Command{
	Name:      "get",
	Usage:     "print the value for a key",
	ArgsUsage: "<key>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("get requires exactly one key argument", 1)
		}
		m, err := openMap(c, true)
		if err != nil {
			return err
		}
		defer m.Close()
		v, present, err := m.Get(c.Args().First())
		if err != nil {
			return err
		}
		if !present {
			return cli.Exit("key not found", 1)
		}
		fmt.Println(v)
		return nil
	},
}

var putCommand = &cli.Command{
	Name:      "put",
	Usage:     "set a key to a value",
	ArgsUsage: "<key> <value>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("put requires a key and a value argument", 1)
		}
		m, err := openMap(c, false)
		if err != nil {
			return err
		}
		defer m.Close()
		existed, err := m.Set(c.Args().Get(0), c.Args().Get(1))
		if err != nil {
			return err
		}
		if existed {
			log.Infow("overwrote existing key", "key", c.Args().Get(0))
		}
		return nil
	},
}

var deleteCommand = &cli.Command{
	Name:      "delete",
	Usage:     "remove a key",
	ArgsUsage: "<key>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("delete requires exactly one key argument", 1)
		}
		m, err := openMap(c, false)
		if err != nil {
			return err
		}
		defer m.Close()
		existed, err := m.Delete(c.Args().First())
		if err != nil {
			return err
		}
		if !existed {
			return cli.Exit("key not found", 1)
		}
		return nil
	},
}

var compactCommand = &cli.Command{
	Name:  "compact",
	Usage: "reclaim orphaned item bodies by relocating live items and truncating slack",
	Action: func(c *cli.Context) error {
		m, err := openMap(c, false)
		if err != nil {
			return err
		}
		defer m.Close()
		before := m.FragmentationCount()
		if err := m.Compact(); err != nil {
			return err
		}
		log.Infow("compacted", "orphansBefore", before, "orphansAfter", m.FragmentationCount())
		return nil
	},
}

var statsCommand = &cli.Command{
	Name:  "stats",
	Usage: "print count, fragmentation, and file size",
	Action: func(c *cli.Context) error {
		m, err := openMap(c, true)
		if err != nil {
			return err
		}
		defer m.Close()
		fmt.Printf("count=%d fragmentation=%d fileSize=%d\n", m.Count(), m.FragmentationCount(), m.FileSize())
		return nil
	},
}

var verifyCommand = &cli.Command{
	Name:  "verify",
	Usage: "walk every item node, live and orphaned, checking the chain is intact",
	Action: func(c *cli.Context) error {
		m, err := openMap(c, true)
		if err != nil {
			return err
		}
		defer m.Close()
		live, orphaned, err := m.VerifyStructure()
		if err != nil {
			return err
		}
		if live != m.Count() {
			return cli.Exit(fmt.Sprintf("live item count %d disagrees with header count %d", live, m.Count()), 1)
		}
		fmt.Printf("verified %d live entries, %d orphaned (fragmentation=%d)\n", live, orphaned, m.FragmentationCount())
		return nil
	},
}
