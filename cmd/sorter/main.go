// Copyright 2024-2025 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.uber.org/zap"

	"github.com/daviszhen/chunksort/pkg/common"
	"github.com/daviszhen/chunksort/pkg/sort"
	"github.com/daviszhen/chunksort/pkg/storage"
	"github.com/daviszhen/chunksort/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initBenchCmd()
}

var sorterCfg = &util.Config{}

///root cmd

var info = "sorter"
var RootCmd = &cobra.Command{
	Use:          "sorter",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use sorter --help or -h")
	},
}

func initEngineOptions() {
	sorterCfg.Engine.ChunkCapacity = viper.GetInt("engine.chunkCapacity")
	sorterCfg.Engine.ToastCapacity = viper.GetInt("engine.toastCapacity")
	sorterCfg.Engine.WindowSize = viper.GetInt("engine.windowSize")
	sorterCfg.Engine.Workers = viper.GetInt("engine.workers")
}

func initDebugOptions() {
	sorterCfg.Debug.PrintResult = viper.GetBool("debug.printResult")
	sorterCfg.Debug.PrintExplain = viper.GetBool("debug.printExplain")
	sorterCfg.Debug.LogLevel = viper.GetString("debug.logLevel")
}

//bench cmd

var benchInfo = "sort generated rows"
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: benchInfo,
	Long:  benchInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initBenchCfg()
		return runBench()
	},
}

var benchRows int
var benchSeed int64
var benchDesc bool

func initBenchCfg() {
	initEngineOptions()
	initDebugOptions()
	sorterCfg.Validate()
	benchRows = viper.GetInt("bench.rows")
	benchSeed = viper.GetInt64("bench.seed")
	benchDesc = viper.GetBool("bench.desc")
}

func initBenchCmd() {
	RootCmd.AddCommand(benchCmd)
	benchCmd.Flags().Int("rows", 1_000_000, "rows to generate and sort")
	benchCmd.Flags().Int64("seed", 1, "random seed")
	benchCmd.Flags().Bool("desc", false, "sort descending")
	benchCmd.Flags().Int("chunk_capacity", 0, "rows per sort chunk")
	benchCmd.Flags().Int("toast_capacity", 0, "bytes per toast arena")
	benchCmd.Flags().Int("window_size", 0, "max device resident chunks")
	benchCmd.Flags().Int("workers", 0, "device pool workers")

	viper.BindPFlag("bench.rows", benchCmd.Flags().Lookup("rows"))
	viper.BindPFlag("bench.seed", benchCmd.Flags().Lookup("seed"))
	viper.BindPFlag("bench.desc", benchCmd.Flags().Lookup("desc"))
	viper.BindPFlag("engine.chunkCapacity", benchCmd.Flags().Lookup("chunk_capacity"))
	viper.BindPFlag("engine.toastCapacity", benchCmd.Flags().Lookup("toast_capacity"))
	viper.BindPFlag("engine.windowSize", benchCmd.Flags().Lookup("window_size"))
	viper.BindPFlag("engine.workers", benchCmd.Flags().Lookup("workers"))
}

func genRows(cnt int, seed int64) [][]common.Value {
	rnd := rand.New(rand.NewSource(seed))
	rows := make([][]common.Value, cnt)
	for i := 0; i < cnt; i++ {
		rows[i] = []common.Value{
			common.I64Value(rnd.Int63n(int64(cnt) * 2)),
			common.F64Value(rnd.Float64()),
			common.StrValue(fmt.Sprintf("payload-%08x", rnd.Uint32())),
		}
	}
	return rows
}

func runBench() error {
	types := []common.TypeId{common.TID_INT64, common.TID_FLOAT64, common.TID_VARCHAR}
	order := sort.OT_ASC
	if benchDesc {
		order = sort.OT_DESC
	}
	cmp := sort.NewKeyComparator([]sort.KeySpec{{Col: 0, Order: order}})

	mgr, err := sort.NewManager(sorterCfg.Engine, types, ^uint64(0), cmp)
	if err != nil {
		return err
	}
	defer mgr.Close()

	rows := genRows(benchRows, benchSeed)
	src := storage.NewMemRowStore(0, rows, storage.DefaultBatchRows)

	start := time.Now()
	result, err := mgr.Sort(context.Background(), src)
	if err != nil {
		return err
	}
	util.Info("sort done",
		zap.Int("rows", benchRows),
		zap.Int("chunks", result.ChunkCount()),
		zap.Duration("elapsed", time.Since(start)))

	if sorterCfg.Debug.PrintExplain {
		fmt.Println(result.Explain())
	}
	if sorterCfg.Debug.PrintResult {
		return result.Scan(func(vals []common.Value, recid uint64) error {
			_, err := fmt.Println(vals[0].String(), vals[1].String(), vals[2].String())
			return err
		})
	}
	return nil
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "sorter.toml"

func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			if err := viper.ReadInConfig(); err != nil {
				util.Error("load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			break
		}
	}
	util.SetupLogger(viper.GetString("debug.logLevel"))
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(-1)
	}
}
