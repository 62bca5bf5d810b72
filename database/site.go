package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"portfolio-oracle/web/types"
)

// PublishedProjects implements rag.SiteContentProvider.
func (s *PostgresStore) PublishedProjects(ctx context.Context) ([]types.Project, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT title, category, description, challenge, solution, results, technologies
		FROM projects WHERE published = TRUE
		ORDER BY sort_order ASC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []types.Project
	for rows.Next() {
		var p types.Project
		if err := rows.Scan(&p.Title, &p.Category, &p.Description, &p.Challenge, &p.Solution,
			pq.Array(&p.Results), pq.Array(&p.Technologies)); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// PublishedPosts implements rag.SiteContentProvider.
func (s *PostgresStore) PublishedPosts(ctx context.Context) ([]types.BlogPost, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT title, category, tags, content
		FROM blog_posts WHERE published = TRUE
		ORDER BY published_at DESC NULLS LAST, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blog posts: %w", err)
	}
	defer rows.Close()

	var posts []types.BlogPost
	for rows.Next() {
		var p types.BlogPost
		if err := rows.Scan(&p.Title, &p.Category, pq.Array(&p.Tags), &p.Content); err != nil {
			return nil, fmt.Errorf("failed to scan blog post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
