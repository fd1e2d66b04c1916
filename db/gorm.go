package db

import (
	"fmt"
	"time"

	"RadioRoyal/config"
	applog "RadioRoyal/logger"
	"RadioRoyal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB 是广播日志使用的数据库连接
var GormDB *gorm.DB

// ConnectGormDB 建立 GORM 数据库连接并迁移广播日志表
func ConnectGormDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Warn),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := gdb.AutoMigrate(&model.BroadcastSession{}); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}

	GormDB = gdb
	applog.Info("Connected to the broadcast journal database", applog.String("host", cfg.DBHost), applog.String("db", cfg.DBName))
	return nil
}

// CloseGormDB 关闭 GORM 数据库连接
func CloseGormDB() error {
	if GormDB == nil {
		return nil
	}
	sqlDB, err := GormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
