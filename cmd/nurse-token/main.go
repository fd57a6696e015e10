// Command nurse-token issues an API token for a station user. Login is
// handled outside this service; operators mint tokens with the shared JWT
// secret and hand them to the front end.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/nurse-station/pkg/auth"
	"github.com/medflow/nurse-station/pkg/config"
	"github.com/medflow/nurse-station/pkg/logger"
)

func main() {
	name := flag.String("name", "", "display name of the user")
	role := flag.String("role", auth.RoleNurse, "role: nurse or admin")
	id := flag.String("id", "", "user id (random when empty)")
	expiry := flag.Duration("expiry", 0, "token lifetime (config default when zero)")
	flag.Parse()

	log := logger.New("nurse-token", config.GetEnvironment())

	cfg, err := config.LoadWithValidation("nurse-station")
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	if *role != auth.RoleNurse && *role != auth.RoleAdmin {
		log.Fatal().Str("role", *role).Msg("role must be nurse or admin")
	}
	if *id == "" {
		*id = uuid.NewString()
	}
	if *expiry > 0 {
		cfg.JWT.AccessExpiry = *expiry
	}

	token, expiresAt, err := auth.NewManager(&cfg.JWT).GenerateToken(&auth.UserInfo{ID: *id, Name: *name, Role: *role})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sign token")
	}

	log.Info().
		Str("user_id", *id).
		Str("role", *role).
		Time("expires_at", expiresAt.Truncate(time.Second)).
		Msg("token issued")
	fmt.Fprintln(os.Stdout, token)
}
