// Command deckhand plays zero-trust card games. `demo` runs a whole game
// between local parties, `serve` hosts the ordering authority for a
// distributed game, and `join` takes a seat at a served table.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/deckhand-io/deckhand/network"
	"github.com/deckhand-io/deckhand/seq"
	"github.com/deckhand-io/deckhand/table"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "deckhand",
		Usage:   "zero-trust mental poker engine",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "zerolog level (trace, debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			lvl, err := zerolog.ParseLevel(c.String("log-level"))
			if err != nil {
				return err
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(lvl).With().Timestamp().Logger()
			return nil
		},
		Commands: []*cli.Command{
			demoCommand(),
			serveCommand(),
			joinCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("deckhand failed")
	}
}

func demoCommand() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "play a full game between local parties and audit it",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "parties", Value: 3, Usage: "number of players"},
			&cli.IntFlag{Name: "draws", Value: 2, Usage: "cards drawn per player"},
		},
		Action: func(c *cli.Context) error {
			return runDemo(c.Int("parties"), c.Int("draws"))
		},
	}
}

func runDemo(numParties, draws int) error {
	if numParties < 2 {
		return fmt.Errorf("a game needs at least 2 parties, got %d", numParties)
	}
	authority := seq.NewAuthority()
	defer authority.Kill()

	parties := make([]*table.Party, numParties)
	for i := range parties {
		p, err := table.NewParty(table.Config{Id: uuid.New()}, authority.Attach())
		if err != nil {
			return err
		}
		defer p.Kill()
		parties[i] = p
	}

	ctx := context.Background()
	if err := await(parties[0], "seating", func(st table.TableState) bool {
		return len(st.Players) == numParties && st.Prime != nil
	}); err != nil {
		return err
	}
	log.Info().Int("parties", numParties).Msg("table seated, shuffling")
	if err := parties[0].StartGame(ctx); err != nil {
		return err
	}
	for _, p := range parties {
		if err := await(p, "playing phase", func(st table.TableState) bool {
			return st.Phase == table.PlayingPhase
		}); err != nil {
			return err
		}
	}

	card := 0
	for _, p := range parties {
		for d := 0; d < draws; d++ {
			if err := p.Draw(ctx, card, false); err != nil {
				return err
			}
			card++
		}
	}
	card = 0
	for _, p := range parties {
		for d := 0; d < draws; d++ {
			me := p
			mine := card
			if err := await(me, "card keys", func(st table.TableState) bool {
				return st.ReadableBy(mine, me.Id())
			}); err != nil {
				return err
			}
			v, err := me.Look(mine)
			if err != nil {
				return err
			}
			log.Info().Stringer("player", me.Id()).Int("card", mine).
				Str("value", table.CardName(v)).Msg("drew")
			card++
		}
	}

	for _, p := range parties {
		if err := p.Reveal(ctx); err != nil {
			return err
		}
	}
	if err := await(parties[0], "revealed phase", func(st table.TableState) bool {
		return st.Phase == table.RevealedPhase
	}); err != nil {
		return err
	}
	st := parties[0].State()
	violations, err := table.Audit(&st)
	if err != nil {
		return err
	}
	for _, v := range violations {
		log.Warn().Stringer("player", v.Player).Uint64("seq", v.Seq).
			Str("reason", v.Reason).Msg("violation")
	}
	if len(violations) == 0 {
		log.Info().Msg("game audited clean")
	}
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "host the ordering authority for a distributed game",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Value: "/ip4/0.0.0.0/tcp/9190",
				Usage: "multiaddr to listen on",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			provider, err := network.NewLibp2p(ctx, c.String("listen"))
			if err != nil {
				return err
			}
			defer provider.Close()

			authority := seq.NewAuthority()
			defer authority.Kill()
			if err := provider.Register(&seq.AuthorityService{Authority: authority}); err != nil {
				return err
			}
			for _, a := range provider.Addrs() {
				log.Info().Str("addr", a).Msg("authority listening")
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			<-sigs
			log.Info().Msg("shutting down")
			return nil
		},
	}
}

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:  "join",
		Usage: "take a seat at a table served elsewhere",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Required: true, Usage: "authority multiaddr"},
			&cli.BoolFlag{Name: "start", Usage: "start the shuffle once everyone expected is seated"},
			&cli.IntFlag{Name: "parties", Value: 2, Usage: "players to wait for before starting"},
			&cli.IntFlag{Name: "draw", Value: 2, Usage: "cards to draw"},
		},
		Action: func(c *cli.Context) error {
			return runJoin(c.String("addr"), c.Bool("start"), c.Int("parties"), c.Int("draw"))
		},
	}
}

func runJoin(addr string, start bool, numParties, draws int) error {
	ctx := context.Background()
	provider, err := network.NewLibp2p(ctx, "/ip4/0.0.0.0/tcp/0")
	if err != nil {
		return err
	}
	defer provider.Close()

	remote := seq.NewRemote(provider, addr, 100*time.Millisecond)
	defer remote.Close()
	party, err := table.NewParty(table.Config{Id: uuid.New()}, remote)
	if err != nil {
		return err
	}
	defer party.Kill()
	log.Info().Stringer("player", party.Id()).Msg("joined table")

	if start {
		if err := await(party, "seating", func(st table.TableState) bool {
			return len(st.Players) >= numParties && st.Prime != nil
		}); err != nil {
			return err
		}
		if err := party.StartGame(ctx); err != nil {
			return err
		}
	}
	if err := await(party, "playing phase", func(st table.TableState) bool {
		return st.Phase == table.PlayingPhase
	}); err != nil {
		return err
	}

	// Draw the first free cards. Competing draws are no-ops for the
	// loser, so keep trying until we hold enough.
	held := map[int]bool{}
	for len(held) < draws {
		st := party.State()
		for i := range st.Cards {
			if len(held) >= draws {
				break
			}
			if !st.Cards[i].Drawn && !st.Cards[i].Discarded {
				if err := party.Draw(ctx, i, false); err != nil {
					return err
				}
			}
			if st.Cards[i].Drawn && st.Cards[i].Holder == party.Id() {
				held[i] = true
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	for card := range held {
		mine := card
		if err := await(party, "card keys", func(st table.TableState) bool {
			return st.ReadableBy(mine, party.Id())
		}); err != nil {
			return err
		}
		v, err := party.Look(mine)
		if err != nil {
			return err
		}
		log.Info().Int("card", mine).Str("value", table.CardName(v)).Msg("drew")
	}

	if err := party.Reveal(ctx); err != nil {
		return err
	}
	if err := await(party, "revealed phase", func(st table.TableState) bool {
		return st.Phase == table.RevealedPhase
	}); err != nil {
		return err
	}
	st := party.State()
	violations, err := table.Audit(&st)
	if err != nil {
		return err
	}
	for _, v := range violations {
		log.Warn().Stringer("player", v.Player).Uint64("seq", v.Seq).
			Str("reason", v.Reason).Msg("violation")
	}
	log.Info().Int("violations", len(violations)).Msg("game over")
	return nil
}

func await(p *table.Party, what string, cond func(table.TableState) bool) error {
	deadline := time.Now().Add(5 * time.Minute)
	for time.Now().Before(deadline) {
		if err := p.Err(); err != nil {
			return err
		}
		if cond(p.State()) {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for %s", what)
}
