// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command tabletd runs the cloud-mode tablet lifecycle core: compaction
// scheduling, publish-version handling, and delete-bitmap maintenance for
// the tablets assigned to this node.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/cloudtablet/tabletd/internal/clusterid"
	"github.com/cloudtablet/tabletd/internal/compaction"
	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
	"github.com/cloudtablet/tabletd/internal/metaservice"
	"github.com/cloudtablet/tabletd/internal/metastore"
	"github.com/cloudtablet/tabletd/internal/metrics"
	"github.com/cloudtablet/tabletd/internal/paramtable"
	"github.com/cloudtablet/tabletd/internal/tabletmgr"
	"github.com/cloudtablet/tabletd/internal/types"
	"github.com/cloudtablet/tabletd/internal/vault"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	root := &cobra.Command{
		Use:   "tabletd",
		Short: "cloud-mode tablet lifecycle core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "tabletd.yaml", "path to a node config file (serve does not read it; settings come from built-in defaults and TABLETD_* environment variables)")
	root.AddCommand(newServeCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the tabletd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the tablet lifecycle core until signaled to stop",
		RunE:  runServe,
	}
}

// hydrateTablets loads every tablet this node has previously persisted
// before the scheduler and vault registry start, per §4.2's "hydrated from
// persistence" startup invariant. A fresh node with no meta directory yet
// hydrates zero tablets and is not an error.
func hydrateTablets(tabletMgr *tabletmgr.Manager, store *metastore.Store) error {
	ids, err := store.ListTabletIds()
	if err != nil {
		return errs.Wrap(err, "list persisted tablets")
	}
	for _, id := range ids {
		desc, err := store.Load(id)
		if err != nil {
			return errs.Wrapf(err, "load tablet %d meta", id)
		}
		tabletMgr.AddTablet(metastore.FromDescriptor(desc, types.GlobalSchemaCache))
	}
	log.Info("hydrated tablets from persistence", zap.Int("count", len(ids)))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	params := paramtable.NewComponentParam()
	params.Init()

	if err := log.Init(log.Config{Level: "info", Format: "console", Stdout: true}); err != nil {
		return err
	}
	defer log.L().Sync()

	if err := clusterid.Check(params.ClusterCfg.StorePaths, params.ClusterCfg.ConfiguredId); err != nil {
		return err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	etcdCli, err := clientv3.New(clientv3.Config{Endpoints: []string{"127.0.0.1:2379"}})
	if err != nil {
		return err
	}
	defer etcdCli.Close()
	metaClient := metaservice.NewEtcdClient(etcdCli, "/tabletd")

	if len(params.ClusterCfg.StorePaths) == 0 {
		return errs.Wrap(errs.ErrInitFailed, "no store paths configured")
	}
	metaStore := metastore.NewStore(params.ClusterCfg.StorePaths[0])

	tabletMgr := tabletmgr.NewManager()
	tabletMgr.SetStore(metaStore)
	if err := hydrateTablets(tabletMgr, metaStore); err != nil {
		return err
	}

	vaultRegistry := vault.NewRegistry(metaClient)

	scheduler, err := compaction.NewScheduler(params.SchedulerCfg.Config, tabletMgr, metaClient,
		compaction.LookupPolicy("size_based", 1024), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vaultRegistry.Start(ctx, time.Duration(params.VaultCfg.RefreshIntervalSeconds)*time.Second)
	scheduler.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("tabletd started", zap.String("version", version))
	<-sigCh
	log.Info("shutdown signal received, stopping")
	cancel()
	scheduler.Stop()
	vaultRegistry.Stop()
	return nil
}
