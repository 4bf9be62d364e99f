package app

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/StorageCore/src"
	"github.com/Blackdeer1524/StorageCore/src/config"
	"github.com/Blackdeer1524/StorageCore/src/pkg/utils"
)

const dotenvFile = ".env"

type Entrypoint struct {
	Env config.Config
	Fs  afero.Fs

	db  *Database
	log src.Logger
}

func (e *Entrypoint) Init(_ context.Context) error {
	env, err := config.Load(dotenvFile)
	if err != nil {
		return err
	}
	e.Env = env

	var log src.Logger
	if e.Env.Environment == config.EnvDev {
		log = utils.Must(zap.NewDevelopment()).Sugar()
	} else {
		log = utils.Must(zap.NewProduction()).Sugar()
	}
	e.log = log

	if e.Fs == nil {
		e.Fs = afero.NewOsFs()
	}

	e.db, err = OpenDatabase(e.Fs, e.Env, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	return nil
}

func (e *Entrypoint) DB() *Database {
	return e.db
}

func (e *Entrypoint) Logger() src.Logger {
	return e.log
}

func (e *Entrypoint) Close() (err error) {
	if e.db != nil {
		err = e.db.Close()
	}

	if e.log != nil {
		if err != nil {
			e.log.Error("failed to close database", zap.Error(err))
		}

		logErr := e.log.Sync()
		if logErr != nil && err != nil {
			err = fmt.Errorf("%w, %w", err, logErr)
		} else if logErr != nil {
			err = logErr
		}
	}

	return
}
