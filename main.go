/*
 * Copyright (C) 2025 Tuplejump, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not
 * use this file except in compliance with the License. You may obtain a copy of
 * the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
 * WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
 * License for the specific language governing permissions and limitations under
 * the License.
 */

// Command cassandra runs the write engine's operational entry points: a
// configuration check, schema mapping setup and a write round trip probe
// against the configured Bigtable backend.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/datastax/go-cassandra-native-protocol/datatype"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	bigtableclient "github.com/tuplejump/cassandra/bigtable"
	"github.com/tuplejump/cassandra/extensions"
	otelgo "github.com/tuplejump/cassandra/otel"
	responsehandler "github.com/tuplejump/cassandra/responsehandler"
	schemaMapping "github.com/tuplejump/cassandra/schema-mapping"
	"github.com/tuplejump/cassandra/statements"
	"github.com/tuplejump/cassandra/utilities"
)

var engineReleaseVersion = "v1.0.0"

// probeTable is the table the probe subcommand writes through. It is created
// on demand and only ever holds probe rows, which the probe deletes again.
const probeTable = "engine_probe"

type CheckCmd struct{}

type SetupCmd struct{}

type ProbeCmd struct {
	Keyspace string `help:"Keyspace to run the probe in. Defaults to the first configured keyspace." optional:""`
}

type runConfig struct {
	Check CheckCmd `cmd:"" default:"withargs" help:"Validate the configuration and load the schema mappings of every configured keyspace"`
	Setup SetupCmd `cmd:"" help:"Create the schema mapping tables for every configured keyspace"`
	Probe ProbeCmd `cmd:"" help:"Run a write, compare-and-set and delete round trip against the configured backend"`

	Version  bool     `yaml:"version" help:"Show current engine version" short:"v" default:"false" env:"ENGINE_VERSION"`
	Config   *os.File `yaml:"-" help:"YAML configuration file" short:"f" env:"CONFIG_FILE"`
	LogLevel string   `yaml:"log-level" help:"Log level configuration." default:"info" env:"LOG_LEVEL"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	os.Exit(Run(ctx, os.Args[1:]))
}

// Run executes the engine command. 'args' shouldn't include the executable
// (i.e. os.Args[1:]). It returns the exit code for the process.
func Run(ctx context.Context, args []string) int {
	var cfg runConfig
	var err error

	configFile := defaultConfigFile
	if configFileEnv := os.Getenv("CONFIG_FILE"); len(configFileEnv) != 0 {
		configFile = configFileEnv
	}

	parser, err := kong.New(&cfg)
	if err != nil {
		panic(err)
	}

	var cliCtx *kong.Context
	if cliCtx, err = parser.Parse(args); err != nil {
		parser.Errorf("error parsing flags: %v", err)
		return 1
	}

	if cfg.Version {
		cliCtx.Printf("%s", "Version - "+engineReleaseVersion)
		return 0
	}

	if cfg.Config != nil {
		bytes, err := io.ReadAll(cfg.Config)
		if err != nil {
			cliCtx.Errorf("unable to read contents of configuration file '%s': %v", cfg.Config.Name(), err)
			return 1
		}
		err = yaml.Unmarshal(bytes, &cfg)
		if err != nil {
			cliCtx.Errorf("invalid YAML in configuration file '%s': %v", cfg.Config.Name(), err)
		}
		configFile = cfg.Config.Name()
	}

	userConfig, err := LoadConfig(configFile)
	if err != nil {
		cliCtx.Errorf("error while loading %s: %v", configFile, err)
		return 1
	}

	flag := false
	supportedLogLevels := []string{"info", "debug", "error", "warn"}
	for _, level := range supportedLogLevels {
		if cfg.LogLevel == level {
			flag = true
		}
	}
	if !flag {
		cliCtx.Errorf("Invalid log-level should be [info/debug/error/warn]")
		return 1
	}

	logger, err := utilities.SetupLogger(cfg.LogLevel, userConfig.LoggerConfig)
	if err != nil {
		cliCtx.Errorf("unable to create logger")
		return 1
	}
	defer logger.Sync()

	if userConfig.Otel == nil {
		userConfig.Otel = &OtelConfig{
			Enabled: false,
		}
	} else if userConfig.Otel.Enabled {
		if userConfig.Otel.Traces.SamplingRatio < 0 || userConfig.Otel.Traces.SamplingRatio > 1 {
			cliCtx.Errorf("Sampling Ratio for Otel Traces should be between 0 and 1")
			return 1
		}
	}

	otelConfig := &otelgo.OTelConfig{OTELEnabled: false}
	if userConfig.Otel.Enabled {
		otelConfig = &otelgo.OTelConfig{
			TracerEndpoint:     userConfig.Otel.Traces.Endpoint,
			MetricEndpoint:     userConfig.Otel.Metrics.Endpoint,
			ServiceName:        userConfig.Otel.ServiceName,
			OTELEnabled:        userConfig.Otel.Enabled,
			TraceSampleRatio:   userConfig.Otel.Traces.SamplingRatio,
			HealthCheckEnabled: userConfig.Otel.HealthCheck.Enabled,
			HealthCheckEp:      userConfig.Otel.HealthCheck.Endpoint,
			ServiceVersion:     engineReleaseVersion,
		}
	}
	otelInst, shutdownOTel, err := otelgo.NewOpenTelemetry(ctx, otelConfig, logger)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry", zap.Error(err))
		return 1
	}
	if shutdownOTel != nil {
		defer func() {
			if err := shutdownOTel(context.Background()); err != nil {
				logger.Error("error shutting down OpenTelemetry", zap.Error(err))
			}
		}()
	}

	eng, err := connectEngine(ctx, userConfig, logger)
	if err != nil {
		logger.Error("unable to connect to Bigtable", zap.Error(err))
		return 1
	}
	defer eng.Close()

	switch cliCtx.Command() {
	case "setup":
		return runSetup(ctx, eng, logger)
	case "probe":
		keyspace := cfg.Probe.Keyspace
		if keyspace == "" {
			keyspace = userConfig.Keyspaces[0].Name
		}
		return runProbe(ctx, eng, otelInst, keyspace, logger)
	default:
		return runCheck(ctx, eng, logger)
	}
}

// engine bundles the dialed storage proxy with the statement executor built
// over it. All subcommands share one engine per process.
type engine struct {
	cfg      *UserConfig
	proxy    *bigtableclient.StorageProxy
	executor *statements.Executor
	schema   *schemaMapping.SchemaMappingConfig
}

func connectEngine(ctx context.Context, cfg *UserConfig, logger *zap.Logger) (*engine, error) {
	instancesMap := make(map[string]bigtableclient.InstanceConfig, len(cfg.Keyspaces))
	for _, ks := range cfg.Keyspaces {
		instancesMap[ks.Name] = bigtableclient.InstanceConfig{
			BigtableInstance: ks.BigtableInstance,
			AppProfileId:     ks.AppProfileID,
		}
	}

	clients, adminClients, err := bigtableclient.CreateClientsForInstances(ctx, bigtableclient.ConnConfig{
		GCPProjectID:  cfg.WriteEngine.ProjectID,
		NumOfChannels: cfg.WriteEngine.Session.GrpcChannels,
		UserAgent:     "cassandra-write-engine/" + engineReleaseVersion,
		InstancesMap:  instancesMap,
	})
	if err != nil {
		return nil, err
	}

	schemaCfg := schemaMapping.NewSchemaMappingConfig(logger, cfg.WriteEngine.DefaultColumnFamily, nil)
	proxy := bigtableclient.NewStorageProxy(clients, adminClients, logger, bigtableclient.BigtableConfig{
		SchemaMappingTable:  cfg.WriteEngine.SchemaMappingTable,
		DefaultColumnFamily: cfg.WriteEngine.DefaultColumnFamily,
		GCPProjectID:        cfg.WriteEngine.ProjectID,
		NumOfChannels:       cfg.WriteEngine.Session.GrpcChannels,
	}, schemaCfg, instancesMap)

	handler := &responsehandler.TypeHandler{Logger: logger, SchemaMappingConfig: schemaCfg}
	return &engine{
		cfg:      cfg,
		proxy:    proxy,
		executor: statements.NewExecutor(logger, proxy, handler, extensions.Default()),
		schema:   schemaCfg,
	}, nil
}

func (e *engine) Close() {
	e.proxy.Close()
}

func runCheck(ctx context.Context, eng *engine, logger *zap.Logger) int {
	for _, ks := range eng.cfg.Keyspaces {
		if err := eng.proxy.ReloadSchemaMappings(ctx, ks.Name); err != nil {
			logger.Error("schema mapping load failed", zap.String("keyspace", ks.Name), zap.Error(err))
			return 1
		}
		logger.Info("keyspace ready",
			zap.String("keyspace", ks.Name),
			zap.Int("tables", len(eng.schema.TablesMetaData[ks.Name])))
	}
	logger.Info("configuration check passed")
	return 0
}

func runSetup(ctx context.Context, eng *engine, logger *zap.Logger) int {
	for _, ks := range eng.cfg.Keyspaces {
		if err := eng.proxy.EnsureSchemaMappingTable(ctx, ks.Name); err != nil {
			logger.Error("schema mapping table setup failed", zap.String("keyspace", ks.Name), zap.Error(err))
			return 1
		}
		if err := eng.proxy.ReloadSchemaMappings(ctx, ks.Name); err != nil {
			logger.Error("schema mapping load failed", zap.String("keyspace", ks.Name), zap.Error(err))
			return 1
		}
	}
	logger.Info("schema mapping tables ready")
	return 0
}

// runProbe writes one row through the full statement path, races a second
// conditional insert against it, updates it under an IF condition, deletes it
// and verifies the row is gone. Every step goes through the same code serving
// real traffic.
func runProbe(ctx context.Context, eng *engine, otelInst *otelgo.OpenTelemetry, keyspace string, logger *zap.Logger) int {
	if err := prepareProbeTable(ctx, eng, keyspace); err != nil {
		logger.Error("probe table setup failed", zap.String("keyspace", keyspace), zap.Error(err))
		return 1
	}

	probeID := []byte("probe-" + uuid.NewString())
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"insert", func(ctx context.Context) error {
			return probeInsert(ctx, eng, keyspace, probeID)
		}},
		{"cas-conflict", func(ctx context.Context) error {
			return probeInsertIfNotExists(ctx, eng, keyspace, probeID)
		}},
		{"cas-update", func(ctx context.Context) error {
			return probeConditionalUpdate(ctx, eng, keyspace, probeID)
		}},
		{"delete", func(ctx context.Context) error {
			return probeDelete(ctx, eng, keyspace, probeID)
		}},
		{"verify-absent", func(ctx context.Context) error {
			return probeVerifyAbsent(ctx, eng, keyspace, probeID)
		}},
	}
	for _, step := range steps {
		start := time.Now()
		err := step.run(ctx)
		otelInst.RecordMetrics(ctx, step.name, start, "probe", keyspace, err)
		if err != nil {
			logger.Error("probe step failed", zap.String("step", step.name), zap.Error(err))
			return 1
		}
		logger.Info("probe step passed", zap.String("step", step.name), zap.Duration("took", time.Since(start)))
	}
	logger.Info("probe round trip passed",
		zap.String("keyspace", keyspace),
		zap.ByteString("probe_id", probeID))
	return 0
}

func prepareProbeTable(ctx context.Context, eng *engine, keyspace string) error {
	if err := eng.proxy.EnsureSchemaMappingTable(ctx, keyspace); err != nil {
		return err
	}
	if err := eng.proxy.EnsureDataTable(ctx, keyspace, probeTable); err != nil {
		return err
	}
	primaryKeys := []bigtableclient.PrimaryKeyConfig{
		{Name: "probe_id", KeyType: utilities.KEY_TYPE_PARTITION},
	}
	columns := []message.ColumnMetadata{
		{Name: "probe_id", Type: datatype.Varchar, Index: 0},
		{Name: "note", Type: datatype.Varchar, Index: 1},
	}
	if err := eng.proxy.SaveTableSchema(ctx, keyspace, probeTable, primaryKeys, columns); err != nil {
		return err
	}
	return eng.proxy.ReloadSchemaMappings(ctx, keyspace)
}

// probeExecute runs one statement and checks the conditional outcome. A nil
// result means the statement was applied, a non nil result is the witness row
// of a conditional statement that was not.
func probeExecute(ctx context.Context, eng *engine, spec statements.StatementSpec, wantApplied bool) error {
	stmt, err := statements.NewModificationStatement(eng.schema, spec)
	if err != nil {
		return err
	}
	cl := primitive.ConsistencyLevelQuorum
	result, err := eng.executor.Execute(ctx, stmt, statements.Options{Consistency: &cl})
	if err != nil {
		return err
	}
	if applied := result == nil; applied != wantApplied {
		if wantApplied {
			return fmt.Errorf("statement was not applied")
		}
		return fmt.Errorf("statement was applied but should have been rejected")
	}
	return nil
}

func probeKey(probeID []byte) []statements.KeyAssignment {
	return []statements.KeyAssignment{
		{Column: "probe_id", Kind: statements.KeyAssignmentEq, Value: statements.NewLiteral(probeID)},
	}
}

func probeInsert(ctx context.Context, eng *engine, keyspace string, probeID []byte) error {
	return probeExecute(ctx, eng, statements.StatementSpec{
		Type:           statements.StatementInsert,
		Keyspace:       keyspace,
		Table:          probeTable,
		KeyAssignments: probeKey(probeID),
		Operations: []statements.ColumnOperation{
			{Column: "note", Kind: statements.OperationSet, Value: statements.NewLiteral([]byte("written"))},
		},
	}, true)
}

func probeInsertIfNotExists(ctx context.Context, eng *engine, keyspace string, probeID []byte) error {
	return probeExecute(ctx, eng, statements.StatementSpec{
		Type:           statements.StatementInsert,
		Keyspace:       keyspace,
		Table:          probeTable,
		KeyAssignments: probeKey(probeID),
		Operations: []statements.ColumnOperation{
			{Column: "note", Kind: statements.OperationSet, Value: statements.NewLiteral([]byte("conflict"))},
		},
		IfNotExists: true,
	}, false)
}

func probeConditionalUpdate(ctx context.Context, eng *engine, keyspace string, probeID []byte) error {
	return probeExecute(ctx, eng, statements.StatementSpec{
		Type:           statements.StatementUpdate,
		Keyspace:       keyspace,
		Table:          probeTable,
		KeyAssignments: probeKey(probeID),
		Operations: []statements.ColumnOperation{
			{Column: "note", Kind: statements.OperationSet, Value: statements.NewLiteral([]byte("validated"))},
		},
		Conditions: []statements.Condition{
			{Column: "note", Value: statements.NewLiteral([]byte("written"))},
		},
	}, true)
}

func probeDelete(ctx context.Context, eng *engine, keyspace string, probeID []byte) error {
	return probeExecute(ctx, eng, statements.StatementSpec{
		Type:           statements.StatementDelete,
		Keyspace:       keyspace,
		Table:          probeTable,
		KeyAssignments: probeKey(probeID),
		IfExists:       true,
	}, true)
}

func probeVerifyAbsent(ctx context.Context, eng *engine, keyspace string, probeID []byte) error {
	rows, err := eng.proxy.Read(ctx, keyspace, probeTable, [][]byte{probeID}, nil, nil, primitive.ConsistencyLevelQuorum, false)
	if err != nil {
		return err
	}
	if len(rows) != 0 {
		return fmt.Errorf("probe row still present after delete")
	}
	return nil
}
