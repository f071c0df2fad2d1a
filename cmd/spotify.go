package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/spotauth/internal/formatter"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/urfave/cli/v3"
)

// Me prints the profile of the signed-in user, proving the stored token works.
func (r *Runner) Me(ctx context.Context, cmd *cli.Command) error {
	useJSON := cmd.Bool("json")
	pretty := cmd.Bool("pretty")

	return r.withSession(ctx, 0, func(ctx context.Context, st *stack) error {
		if err := requireSession(st); err != nil {
			return err
		}

		user, err := st.spotify.UserProfile(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
		}

		if useJSON {
			return r.writeJSON(user, pretty)
		}

		r.writePlainHeader("Spotify profile")
		r.writePlain("Name:      %s\n", user.DisplayName)
		r.writePlain("ID:        %s\n", user.ID)
		if user.Email != "" {
			r.writePlain("Email:     %s\n", user.Email)
		}
		r.writePlain("Product:   %s\n", user.Product)
		r.writePlain("Followers: %d\n", user.Followers.Total)
		return nil
	})
}

// Playlists lists the user's playlists, or the tracks of one playlist when --id is given.
func (r *Runner) Playlists(ctx context.Context, cmd *cli.Command) error {
	limit := int(cmd.Int("limit"))
	playlistID := cmd.String("id")
	useJSON := cmd.Bool("json")
	pretty := cmd.Bool("pretty")

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	return r.withSession(ctx, 0, func(ctx context.Context, st *stack) error {
		if err := requireSession(st); err != nil {
			return err
		}

		if playlistID != "" {
			export, err := st.spotify.ExportPlaylist(ctx, playlistID)
			if err != nil {
				return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
			}
			if useJSON {
				return r.writeJSON(export, pretty)
			}
			data, err := formatter.Render(format, export)
			if err != nil {
				return err
			}
			return r.writePlain("%s", data)
		}

		r.logger.Infof("listing spotify playlists with limit %v", limit)

		playlists, err := st.spotify.AllPlaylists(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
		}
		if limit > 0 && limit < len(playlists) {
			playlists = playlists[:limit]
		}

		if useJSON {
			return r.writeJSON(playlists, pretty)
		}

		r.writePlainHeader(fmt.Sprintf("Spotify playlists (%d)", len(playlists)))
		for _, p := range playlists {
			r.writePlain("%-24s %-40s %4d tracks  %s\n", p.ID, p.Name, p.TrackCount, p.Owner)
		}
		return nil
	})
}
