package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"grinder/internal/master/environment"
	"grinder/pkg/model"
	"grinder/pkg/store"

	"sigs.k8s.io/yaml"
)

// seedFile is the on-disk shape accepted by -seed.
type seedFile struct {
	Actor   *model.Actor    `json:"actor"`
	Nodes   []*model.Node   `json:"nodes"`
	Targets []*model.Target `json:"targets"`
}

func main() {
	endpoint := flag.String("etcd", "localhost:2379", "Etcd endpoint")
	seedPath := flag.String("seed", "", "Load actor, nodes and targets from a YAML file")
	resultID := flag.String("result", "", "Print the result of a dispatch")
	targetID := flag.String("target", "", "Print the live state of a target")
	flag.Parse()

	etcdManager, err := store.NewEtcdManager([]string{*endpoint}, nil)
	if err != nil {
		log.Fatalf("❌ Failed to connect to etcd: %v", err)
	}
	defer etcdManager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case *seedPath != "":
		seed, err := loadSeed(*seedPath)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		if err := environment.Seed(ctx, etcdManager, seed.Actor, seed.Nodes, seed.Targets); err != nil {
			log.Fatalf("❌ Seed incomplete: %v", err)
		}
		fmt.Printf("✅ Seeded %d nodes and %d targets\n", len(seed.Nodes), len(seed.Targets))

	case *resultID != "":
		res, err := etcdManager.GetResult(ctx, *resultID)
		if err != nil {
			log.Fatalf("❌ Failed to get result: %v", err)
		}
		printJSON(res)

	case *targetID != "":
		t, err := etcdManager.GetTarget(ctx, *targetID)
		if err != nil {
			log.Fatalf("❌ Failed to get target: %v", err)
		}
		printJSON(t)
		fmt.Printf("money %.2f%% of max, security +%.2f over floor\n", t.MoneyRatio()*100, t.Security-t.MinSecurity)

	default:
		nodes, err := etcdManager.ListNodes(ctx)
		if err != nil {
			log.Fatalf("❌ Failed to list nodes: %v", err)
		}
		fmt.Printf("%-20s %-8s %10s %10s\n", "NODE", "STATUS", "USED", "TOTAL")
		for _, n := range nodes {
			fmt.Printf("%-20s %-8s %10.2f %10.2f\n", n.ID, n.Status, n.Used, n.TotalCap)
		}
	}
}

func loadSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.UnmarshalStrict(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
