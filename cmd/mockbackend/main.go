package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"layza/internal/devbackend"
	"layza/internal/objstore"
	"layza/internal/util"
)

// mockbackend is a local stand-in for the tutor service. Uploads land on
// disk by default; point it at MinIO with the -minio flags.
func main() {
	var (
		port        = flag.String("port", "5000", "listen port")
		logLevel    = flag.String("log-level", "info", "slog level")
		uploadsDir  = flag.String("uploads-dir", "uploads", "directory for stored uploads")
		publicURL   = flag.String("public-url", "", "public base URL (defaults to http://localhost:<port>)")
		minioAddr   = flag.String("minio", "", "MinIO endpoint; when set uploads go to object storage")
		minioAccess = flag.String("minio-access-key", "minioadmin", "MinIO access key")
		minioSecret = flag.String("minio-secret-key", "minioadmin", "MinIO secret key")
		minioBucket = flag.String("minio-bucket", "layza-uploads", "MinIO bucket")
		minioSSL    = flag.Bool("minio-ssl", false, "use TLS for MinIO")
	)
	flag.Parse()

	logger := util.InitLogger(*logLevel)

	base := *publicURL
	if base == "" {
		base = "http://localhost:" + *port
	}

	var (
		store      objstore.ObjectStore
		servedDir  string
		storeLabel string
	)
	if *minioAddr != "" {
		minioStore, err := objstore.NewMinioStore(*minioAddr, *minioAccess, *minioSecret, *minioBucket, *minioSSL)
		if err != nil {
			logger.Error("failed to init minio", "endpoint", *minioAddr, "err", err)
			os.Exit(1)
		}
		store = minioStore
		storeLabel = "minio"
	} else {
		fileStore, err := objstore.NewFileStore(*uploadsDir, base+"/uploads")
		if err != nil {
			logger.Error("failed to init upload dir", "dir", *uploadsDir, "err", err)
			os.Exit(1)
		}
		store = fileStore
		servedDir = fileStore.Dir()
		storeLabel = "file"
	}

	backend := devbackend.New(devbackend.Config{
		Store:      store,
		UploadsDir: servedDir,
	})

	addr := ":" + *port
	srv := &http.Server{
		Addr:         addr,
		Handler:      backend.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("mock tutor backend listening", "addr", addr, "store", storeLabel)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
