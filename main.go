package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/3o14-com/backend/activitypub"
	"github.com/3o14-com/backend/db"
	"github.com/3o14-com/backend/domain"
	"github.com/3o14-com/backend/util"
	"github.com/3o14-com/backend/web"
	"github.com/google/uuid"
)

func main() {
	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database := db.GetDB()

	if err := ensureServiceAccount(database, conf); err != nil {
		log.Fatalln(err)
	}

	handler := activitypub.NewHandler(database, conf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.Conf.WithAp {
		handler.StartDeliveryWorker(ctx)
	}

	startServing(conf, handler, cancel)
}

// ensureServiceAccount creates the instance's service account with a fresh
// signing keypair on first start.
func ensureServiceAccount(database *db.DB, conf *util.AppConfig) error {
	handle := conf.Conf.ServiceHandle
	if err, owner := database.ReadOwnerByHandle(handle); err == nil && owner != nil {
		return nil
	}

	log.Printf("Creating service account @%s...", handle)
	keys := util.GeneratePemKeypair()
	origin := conf.Origin()
	iri := fmt.Sprintf("%s/@%s", origin, handle)
	now := time.Now()

	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	acc := &domain.Account{
		Id:             id,
		Iri:            iri,
		Type:           domain.AccountPerson,
		Name:           handle,
		Handle:         fmt.Sprintf("@%s@%s", handle, conf.Conf.Domain),
		Url:            iri,
		InboxUrl:       iri + "/inbox",
		SharedInboxUrl: origin + "/inbox",
		FollowersUrl:   iri + "/followers",
		InstanceHost:   conf.Conf.Domain,
		Published:      &now,
		Updated:        now,
	}
	owner := &domain.AccountOwner{
		Id:            id,
		Handle:        handle,
		PrivateKeyPem: keys.Private,
		PublicKeyPem:  keys.Public,
		Visibility:    domain.VisibilityPublic,
		Language:      "en",
		Discoverable:  true,
	}
	return database.CreateLocalAccount(acc, owner)
}

func startServing(conf *util.AppConfig, handler *activitypub.Handler, cancel context.CancelFunc) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Router(conf, handler); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping server")
	cancel()
}
