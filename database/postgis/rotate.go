package postgis

import (
	"fmt"

	"github.com/youthmappers/mapactivity/log"
)

func (pg *PostGIS) rotate(source, dest, backup string) error {
	defer log.Step("Rotating rollup table")()

	if err := pg.createSchema(backup); err != nil {
		return err
	}

	tx, err := pg.Db.Begin()
	if err != nil {
		return err
	}
	defer rollbackIfTx(&tx)

	tableName := rollupTable.Name
	log.Printf("[info] rotating %s from %s -> %s -> %s", tableName, source, dest, backup)

	backupExists, err := tableExists(tx, backup, tableName)
	if err != nil {
		return err
	}
	sourceExists, err := tableExists(tx, source, tableName)
	if err != nil {
		return err
	}
	destExists, err := tableExists(tx, dest, tableName)
	if err != nil {
		return err
	}

	if !sourceExists {
		log.Printf("[warn] skipping rotate of %s, table does not exist in %s", tableName, source)
		err := tx.Rollback()
		tx = nil
		return err
	}

	if destExists {
		log.Printf("[info] backup of %s, to %s", tableName, backup)
		if backupExists {
			if err := dropTableIfExists(tx, backup, tableName); err != nil {
				return err
			}
		}
		sql := fmt.Sprintf(`ALTER TABLE "%s"."%s" SET SCHEMA "%s"`, dest, tableName, backup)
		if _, err := tx.Exec(sql); err != nil {
			return &SQLError{sql, err}
		}
	}

	sql := fmt.Sprintf(`ALTER TABLE "%s"."%s" SET SCHEMA "%s"`, source, tableName, dest)
	if _, err := tx.Exec(sql); err != nil {
		return &SQLError{sql, err}
	}

	err = tx.Commit()
	if err != nil {
		return err
	}
	tx = nil // set nil to prevent rollback
	return nil
}

// Deploy moves the imported rollup table into the production schema and
// keeps the previous production table as backup.
func (pg *PostGIS) Deploy() error {
	return pg.rotate(pg.Config.ImportSchema, pg.Config.ProductionSchema, pg.Config.BackupSchema)
}

// RevertDeploy moves the backup table back into the production schema.
func (pg *PostGIS) RevertDeploy() error {
	return pg.rotate(pg.Config.BackupSchema, pg.Config.ProductionSchema, pg.Config.ImportSchema)
}

// RemoveBackup drops the rollup table from the backup schema.
func (pg *PostGIS) RemoveBackup() error {
	tx, err := pg.Db.Begin()
	if err != nil {
		return err
	}
	defer rollbackIfTx(&tx)

	backup := pg.Config.BackupSchema
	tableName := rollupTable.Name

	backupExists, err := tableExists(tx, backup, tableName)
	if err != nil {
		return err
	}
	if backupExists {
		log.Printf("[info] removing backup of %s from %s", tableName, backup)
		if err := dropTableIfExists(tx, backup, tableName); err != nil {
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return err
	}
	tx = nil // set nil to prevent rollback
	return nil
}
